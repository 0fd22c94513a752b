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

//go:build !duckdb_arrow

package artifact

import (
	"context"
	"database/sql"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stockparfait/errors"

	"github.com/coinrank/coinrank/rankings"
)

const insertRankings = "INSERT INTO rankings VALUES" +
	" (CAST(? AS DATE), ?, ?, ?, ?, ?, ?, ?, ?)"

// loadRows copies the record into the rankings table through a prepared
// statement in a single transaction. Building with -tags=duckdb_arrow
// replaces this with a zero-copy Arrow view.
func loadRows(ctx context.Context, conn *sql.DB, rec arrow.Record) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "failed to begin transaction")
	}
	stmt, err := tx.PrepareContext(ctx, insertRankings)
	if err != nil {
		tx.Rollback()
		return errors.Annotate(err, "failed to prepare insert")
	}
	for i := 0; i < int(rec.NumRows()); i++ {
		if _, err := stmt.ExecContext(ctx, rowArgs(rec, i)...); err != nil {
			stmt.Close()
			tx.Rollback()
			return errors.Annotate(err, "failed to insert row %d", i)
		}
	}
	if err := stmt.Close(); err != nil {
		tx.Rollback()
		return errors.Annotate(err, "failed to close insert statement")
	}
	if err := tx.Commit(); err != nil {
		return errors.Annotate(err, "failed to commit")
	}
	return nil
}

// rowArgs converts row i into driver arguments in canonical column order.
// Null cells become SQL NULLs.
func rowArgs(rec arrow.Record, i int) []any {
	date := rec.Column(rankings.IdxDate).(*array.Date32)
	rank := rec.Column(rankings.IdxRank).(*array.Int64)
	id := rec.Column(rankings.IdxCoinID).(*array.String)

	args := make([]any, 0, rankings.NumCols)
	args = append(args,
		date.Value(i).ToTime().Format("2006-01-02"),
		rank.Value(i),
		id.Value(i))
	for _, col := range []int{rankings.IdxSymbol, rankings.IdxName} {
		c := rec.Column(col).(*array.String)
		if c.IsNull(i) {
			args = append(args, nil)
		} else {
			args = append(args, c.Value(i))
		}
	}
	for _, col := range []int{rankings.IdxMarketCap, rankings.IdxPrice,
		rankings.IdxVolume24h, rankings.IdxPriceChange24h} {
		c := rec.Column(col).(*array.Float64)
		if c.IsNull(i) {
			args = append(args, nil)
		} else {
			args = append(args, c.Value(i))
		}
	}
	return args
}
