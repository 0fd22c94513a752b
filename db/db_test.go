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

package db

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDB(t *testing.T) {
	t.Parallel()
	tmpdir, tmpdirErr := os.MkdirTemp("", "testdb")
	defer os.RemoveAll(tmpdir)

	Convey("Test setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("Layout computes per-date paths", t, func() {
		l := NewLayout("/data")
		d := NewDate(2025, 11, 24)

		So(l.CheckpointDir(), ShouldEqual, "/data/checkpoints")
		So(l.SnapshotPath(d), ShouldEqual, "/data/raw/coins_2025-11-24.jsonl")
		So(l.MetaPath(d), ShouldEqual, "/data/raw/collection_meta_2025-11-24.json")
		So(l.DuckDBPath(d), ShouldEqual, "/data/duckdb/coin_rankings_2025-11-24.duckdb")
		So(l.PartitionDir(d), ShouldEqual, "/data/parquet/year=2025/month=11/day=24")
		So(l.ParquetPath(d), ShouldEqual,
			"/data/parquet/year=2025/month=11/day=24/data.parquet")
		So(l.CSVPath(d), ShouldEqual, "/data/csv/coin_rankings_2025-11-24.csv.gz")

		Convey("single-digit components are zero-padded", func() {
			So(l.PartitionDir(NewDate(2026, 1, 5)), ShouldEqual,
				"/data/parquet/year=2026/month=01/day=05")
		})
	})

	Convey("Snapshot append and read", t, func() {
		path := filepath.Join(tmpdir, "raw", "coins_2025-11-24.jsonl")

		Convey("accumulates records across reopens", func() {
			s, err := OpenSnapshot(path)
			So(err, ShouldBeNil)
			So(s.Append(map[string]any{"id": "bitcoin", "market_cap_rank": 1}), ShouldBeNil)
			So(s.Append(map[string]any{"id": "ethereum", "market_cap_rank": 2}), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			// A resumed attempt appends to the same file.
			s, err = OpenSnapshot(path)
			So(err, ShouldBeNil)
			So(s.Append(map[string]any{"id": "tether", "market_cap_rank": 3}), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			records, err := ReadSnapshot(path)
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 3)

			var first map[string]any
			So(json.Unmarshal(records[0], &first), ShouldBeNil)
			So(first["id"], ShouldEqual, "bitcoin")
			var last map[string]any
			So(json.Unmarshal(records[2], &last), ShouldBeNil)
			So(last["id"], ShouldEqual, "tether")
		})

		Convey("flags a malformed line", func() {
			bad := filepath.Join(tmpdir, "bad.jsonl")
			So(os.WriteFile(bad, []byte("{\"id\": \"ok\"}\n{oops\n"), 0644), ShouldBeNil)
			_, err := ReadSnapshot(bad)
			So(err, ShouldNotBeNil)
		})

		Convey("missing file is an error", func() {
			_, err := ReadSnapshot(filepath.Join(tmpdir, "nope.jsonl"))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("CollectionMeta round-trips", t, func() {
		path := filepath.Join(tmpdir, "raw", "collection_meta_2025-11-24.json")
		meta := CollectionMeta{
			Date:            NewDate(2025, 11, 24),
			TotalCoins:      17543,
			Pages:           71,
			APICalls:        73,
			DupDropped:      2,
			DurationSec:     312.5,
			LatencyMeanSec:  0.42,
			LatencySigmaSec: 0.11,
			Started:         NewTime(2025, 11, 24, 6, 0, 0),
			Finished:        NewTime(2025, 11, 24, 6, 5, 12),
		}
		So(WriteCollectionMeta(path, meta), ShouldBeNil)
		meta2, err := ReadCollectionMeta(path)
		So(err, ShouldBeNil)
		So(meta2.Date, ShouldResemble, meta.Date)
		So(meta2.TotalCoins, ShouldEqual, meta.TotalCoins)
		So(meta2.APICalls, ShouldEqual, meta.APICalls)
		So(meta2.Started.String(), ShouldEqual, meta.Started.String())

		Convey("no temporary files are left behind", func() {
			entries, err := os.ReadDir(filepath.Dir(path))
			So(err, ShouldBeNil)
			for _, e := range entries {
				So(strings.Contains(e.Name(), ".tmp"), ShouldBeFalse)
			}
		})
	})

	Convey("WriteFileAtomic replaces existing content", t, func() {
		path := filepath.Join(tmpdir, "atomic", "f.json")
		So(WriteFileAtomic(path, []byte("one")), ShouldBeNil)
		So(WriteFileAtomic(path, []byte("two")), ShouldBeNil)
		data, err := os.ReadFile(path)
		So(err, ShouldBeNil)
		So(string(data), ShouldEqual, "two")
	})
}
