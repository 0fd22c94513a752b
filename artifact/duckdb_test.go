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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/coinrank/coinrank/db"
	"github.com/coinrank/coinrank/rankings"
)

func TestBuildDuckDB(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_duckdb")
	defer os.RemoveAll(tmpdir)

	Convey("Test setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("BuildDuckDB round trip", t, func() {
		ctx := context.Background()
		rec, err := testRecord()
		So(err, ShouldBeNil)
		defer rec.Release()

		runDir, err := os.MkdirTemp(tmpdir, "run")
		So(err, ShouldBeNil)
		path := db.NewLayout(runDir).DuckDBPath(testDate)
		So(BuildDuckDB(ctx, rec, path), ShouldBeNil)

		conn, err := sql.Open("duckdb", path)
		So(err, ShouldBeNil)
		defer conn.Close()

		Convey("every row comes back with native dates and exact numerics", func() {
			var n int
			So(conn.QueryRow("SELECT count(*) FROM rankings").Scan(&n), ShouldBeNil)
			So(n, ShouldEqual, 3)

			var typ string
			So(conn.QueryRow("SELECT typeof(date) FROM rankings LIMIT 1").Scan(&typ),
				ShouldBeNil)
			So(typ, ShouldEqual, "DATE")

			rows, err := conn.Query(`SELECT date, rank, coin_id, symbol, name,
				market_cap, price, volume_24h, price_change_24h_pct
				FROM rankings ORDER BY rank`)
			So(err, ShouldBeNil)
			defer rows.Close()

			type row struct {
				date   time.Time
				rank   int64
				id     string
				symbol sql.NullString
				name   sql.NullString
				mcap   sql.NullFloat64
				price  sql.NullFloat64
				vol    sql.NullFloat64
				change sql.NullFloat64
			}
			var got []row
			for rows.Next() {
				var r row
				So(rows.Scan(&r.date, &r.rank, &r.id, &r.symbol, &r.name,
					&r.mcap, &r.price, &r.vol, &r.change), ShouldBeNil)
				got = append(got, r)
			}
			So(rows.Err(), ShouldBeNil)
			So(len(got), ShouldEqual, 3)

			So(got[0].date.Format("2006-01-02"), ShouldEqual, "2025-11-24")
			So(got[0].rank, ShouldEqual, 1)
			So(got[0].id, ShouldEqual, "bitcoin")
			So(got[0].symbol.String, ShouldEqual, "bit")
			So(got[0].name.String, ShouldEqual, "bitcoin")
			So(got[0].mcap.Float64, ShouldEqual, 1000000.0)
			So(got[0].price.Float64, ShouldEqual, 67234.123456789)
			So(got[0].vol.Float64, ShouldEqual, 5000.0)
			So(got[0].change.Float64, ShouldEqual, -1.5)

			So(got[2].id, ShouldEqual, "tether")
			So(got[2].name.Valid, ShouldBeFalse)
			So(got[2].vol.Valid, ShouldBeFalse)
			So(got[2].date.Format("2006-01-02"), ShouldEqual, "2025-11-24")
		})

		Convey("indexes are in place", func() {
			rows, err := conn.Query(
				"SELECT index_name FROM duckdb_indexes() ORDER BY index_name")
			So(err, ShouldBeNil)
			defer rows.Close()

			var names []string
			for rows.Next() {
				var name string
				So(rows.Scan(&name), ShouldBeNil)
				names = append(names, name)
			}
			So(rows.Err(), ShouldBeNil)
			So(names, ShouldResemble, []string{
				"idx_rankings_coin_id", "idx_rankings_date", "idx_rankings_rank"})
		})

		Convey("rebuilding replaces the previous artifact", func() {
			So(conn.Close(), ShouldBeNil)
			So(BuildDuckDB(ctx, rec, path), ShouldBeNil)

			conn2, err := sql.Open("duckdb", path)
			So(err, ShouldBeNil)
			defer conn2.Close()
			var n int
			So(conn2.QueryRow("SELECT count(*) FROM rankings").Scan(&n), ShouldBeNil)
			So(n, ShouldEqual, 3)
		})

		Convey("an empty table builds an empty rankings table", func() {
			empty, err := rankings.Transform(nil, testDate)
			So(err, ShouldBeNil)
			defer empty.Release()

			emptyPath := filepath.Join(runDir, "empty.duckdb")
			So(BuildDuckDB(ctx, empty, emptyPath), ShouldBeNil)

			conn2, err := sql.Open("duckdb", emptyPath)
			So(err, ShouldBeNil)
			defer conn2.Close()
			var n int
			So(conn2.QueryRow("SELECT count(*) FROM rankings").Scan(&n), ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}
