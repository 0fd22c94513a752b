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
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	_ "github.com/marcboeker/go-duckdb/v2"
)

const createRankings = `CREATE TABLE rankings (
	date DATE NOT NULL,
	rank BIGINT NOT NULL,
	coin_id VARCHAR NOT NULL,
	symbol VARCHAR,
	name VARCHAR,
	market_cap DOUBLE,
	price DOUBLE,
	volume_24h DOUBLE,
	price_change_24h_pct DOUBLE
)`

var rankingsIndexes = []string{
	"CREATE INDEX idx_rankings_date ON rankings (date)",
	"CREATE INDEX idx_rankings_rank ON rankings (rank)",
	"CREATE INDEX idx_rankings_coin_id ON rankings (coin_id)",
}

// BuildDuckDB writes the table into an embedded DuckDB database at path as
// a `rankings` table with indexes on date, rank and coin_id. Dates land as
// native DATE values. A previous artifact at path is replaced; on failure
// the partial file is removed.
func BuildDuckDB(ctx context.Context, rec arrow.Record, path string) error {
	if err := ensureCanonical(rec); err != nil {
		return errors.Annotate(err, "DuckDB builder")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Annotate(err, "failed to create directory for '%s'", path)
	}
	removeDuckDB(path)

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return errors.Annotate(err, "failed to open DuckDB at '%s'", path)
	}
	if err := buildRankings(ctx, conn, rec); err != nil {
		conn.Close()
		removeDuckDB(path)
		return errors.Annotate(err, "failed to build DuckDB artifact '%s'", path)
	}
	if err := conn.Close(); err != nil {
		removeDuckDB(path)
		return errors.Annotate(err, "failed to close DuckDB at '%s'", path)
	}
	logging.Infof(ctx, "wrote DuckDB artifact '%s' (%d rows)", path, rec.NumRows())
	return nil
}

func buildRankings(ctx context.Context, conn *sql.DB, rec arrow.Record) error {
	if _, err := conn.ExecContext(ctx, createRankings); err != nil {
		return errors.Annotate(err, "failed to create rankings table")
	}
	if err := loadRows(ctx, conn, rec); err != nil {
		return errors.Annotate(err, "failed to load %d rows", rec.NumRows())
	}
	for _, q := range rankingsIndexes {
		if _, err := conn.ExecContext(ctx, q); err != nil {
			return errors.Annotate(err, "failed to create index")
		}
	}
	// Flush the WAL so the artifact is a single self-contained file.
	if _, err := conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return errors.Annotate(err, "failed to checkpoint")
	}
	return nil
}

// removeDuckDB deletes the database file and its WAL, best effort.
func removeDuckDB(path string) {
	os.Remove(path)
	os.Remove(path + ".wal")
}
