// Copyright 2025 Coinrank Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build duckdb_arrow

package artifact

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	duckdb "github.com/marcboeker/go-duckdb/v2"
	"github.com/stockparfait/errors"
)

// loadRows registers the record as an Arrow view on a single connection and
// copies it into the rankings table without per-row conversion.
func loadRows(ctx context.Context, conn *sql.DB, rec arrow.Record) error {
	rdr, err := array.NewRecordReader(rec.Schema(), []arrow.Record{rec})
	if err != nil {
		return errors.Annotate(err, "failed to wrap record in a reader")
	}
	defer rdr.Release()

	c, err := conn.Conn(ctx)
	if err != nil {
		return errors.Annotate(err, "failed to acquire connection")
	}
	defer c.Close()

	// The view lives on this one driver connection; release drops it.
	var release func()
	err = c.Raw(func(dc any) error {
		ar, err := duckdb.NewArrowFromConn(dc.(driver.Conn))
		if err != nil {
			return errors.Annotate(err, "failed to create Arrow interface")
		}
		release, err = ar.RegisterView(rdr, "rankings_src")
		if err != nil {
			return errors.Annotate(err, "failed to register Arrow view")
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer release()

	_, err = c.ExecContext(ctx, "INSERT INTO rankings SELECT * FROM rankings_src")
	if err != nil {
		return errors.Annotate(err, "failed to copy the Arrow view into rankings")
	}
	return nil
}
