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

package artifact

import (
	"bytes"
	"compress/gzip"
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"github.com/coinrank/coinrank/db"
	"github.com/coinrank/coinrank/table"
)

const gzipLevel = 6

// BuildCSV writes the table as a gzip-compressed CSV file at path,
// atomically. The first line is the canonical header; nulls render as empty
// cells and dates as YYYY-MM-DD.
func BuildCSV(ctx context.Context, rec arrow.Record, path string) error {
	if err := ensureCanonical(rec); err != nil {
		return errors.Annotate(err, "CSV builder")
	}
	tbl, err := table.FromRecord(rec)
	if err != nil {
		return errors.Annotate(err, "failed to render the table")
	}
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzipLevel)
	if err != nil {
		return errors.Annotate(err, "failed to create gzip writer")
	}
	if err := tbl.WriteCSV(gz, table.Params{}); err != nil {
		gz.Close()
		return errors.Annotate(err, "failed to encode CSV")
	}
	if err := gz.Close(); err != nil {
		return errors.Annotate(err, "failed to finish gzip stream")
	}
	if err := db.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return errors.Annotate(err, "failed to write CSV artifact")
	}
	logging.Infof(ctx, "wrote CSV artifact '%s' (%d rows)", path, rec.NumRows())
	return nil
}
