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

package pipeline

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stockparfait/testutil"

	"github.com/coinrank/coinrank/coingecko"
	"github.com/coinrank/coinrank/db"
	"github.com/coinrank/coinrank/ratelimit"
)

func marketsPage(coins ...coingecko.Coin) string {
	data, err := json.Marshal(coins)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func readGzip(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func TestPipeline(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_pipeline")
	defer os.RemoveAll(tmpdir)

	Convey("Test setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	date := db.NewDate(2025, 11, 24)
	checkpointName := "checkpoint_2025-11-24.json"

	Convey("Pipeline", t, func() {
		runDir, err := os.MkdirTemp(tmpdir, "run")
		So(err, ShouldBeNil)

		server := testutil.NewTestServer()
		defer server.Close()
		coingecko.URL = server.URL() + "/api/v3"
		ctx := coingecko.UseHTTPClient(context.Background(), server.Client())

		cfg := DefaultConfig()
		cfg.DataDir = runDir
		cfg.PerPage = 2
		cfg.Limiter = &ratelimit.Config{
			BaseDelay:   time.Microsecond,
			MaxDelay:    time.Millisecond,
			ResetStreak: 3,
		}
		p, err := New(cfg)
		So(err, ShouldBeNil)
		layout := p.Layout()

		Convey("a full run builds every artifact and clears the checkpoint", func() {
			server.ResponseBody = []string{
				marketsPage(coingecko.TestCoin("bitcoin", 1),
					coingecko.TestCoin("ethereum", 2)),
				marketsPage(coingecko.TestCoin("tether", 3)),
			}
			So(p.Run(ctx, date), ShouldBeNil)

			for _, path := range []string{
				layout.DuckDBPath(date),
				layout.ParquetPath(date),
				layout.CSVPath(date),
				layout.SnapshotPath(date),
				layout.MetaPath(date),
			} {
				_, err := os.Stat(path)
				So(err, ShouldBeNil)
			}
			_, err := os.Stat(filepath.Join(layout.CheckpointDir(), checkpointName))
			So(os.IsNotExist(err), ShouldBeTrue)
			_, err = os.Stat(layout.CSVPath(date) + stagingSuffix)
			So(os.IsNotExist(err), ShouldBeTrue)

			csv, err := readGzip(layout.CSVPath(date))
			So(err, ShouldBeNil)
			lines := strings.Split(strings.TrimSpace(csv), "\n")
			So(len(lines), ShouldEqual, 4)
			So(lines[1], ShouldStartWith, "2025-11-24,1,bitcoin")
			So(lines[3], ShouldStartWith, "2025-11-24,3,tether")

			meta, err := db.ReadCollectionMeta(layout.MetaPath(date))
			So(err, ShouldBeNil)
			So(meta.TotalCoins, ShouldEqual, 3)
			So(meta.APICalls, ShouldEqual, 2)
		})

		Convey("a validation failure builds nothing and keeps the checkpoint", func() {
			server.ResponseBody = []string{
				marketsPage(coingecko.TestCoin("bitcoin", 1),
					coingecko.TestCoin("ethereum", 2)),
				marketsPage(coingecko.TestCoin("tether", 2)), // rank tie
			}
			err := p.Run(ctx, date)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "validation failed")

			for _, path := range []string{
				layout.DuckDBPath(date),
				layout.ParquetPath(date),
				layout.CSVPath(date),
			} {
				_, err := os.Stat(path)
				So(os.IsNotExist(err), ShouldBeTrue)
			}
			// the raw snapshot and the checkpoint survive for diagnosis and resume
			_, err = os.Stat(layout.SnapshotPath(date))
			So(err, ShouldBeNil)
			_, err = os.Stat(filepath.Join(layout.CheckpointDir(), checkpointName))
			So(err, ShouldBeNil)
		})

		Convey("a failed builder leaves no artifacts behind", func() {
			server.ResponseBody = []string{
				marketsPage(coingecko.TestCoin("bitcoin", 1),
					coingecko.TestCoin("ethereum", 2)),
				marketsPage(coingecko.TestCoin("tether", 3)),
			}
			// A directory at the CSV staging path makes the CSV build fail
			// after DuckDB and Parquet have already been staged.
			So(os.MkdirAll(layout.CSVPath(date)+stagingSuffix, 0755), ShouldBeNil)

			err := p.Run(ctx, date)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "CSV build")

			for _, path := range []string{
				layout.DuckDBPath(date),
				layout.ParquetPath(date),
				layout.CSVPath(date),
				layout.DuckDBPath(date) + stagingSuffix,
				layout.ParquetPath(date) + stagingSuffix,
			} {
				_, err := os.Stat(path)
				So(os.IsNotExist(err), ShouldBeTrue)
			}
			_, err = os.Stat(filepath.Join(layout.CheckpointDir(), checkpointName))
			So(err, ShouldBeNil)
		})

		Convey("rebuild from the snapshot touches no network", func() {
			snap, err := db.OpenSnapshot(layout.SnapshotPath(date))
			So(err, ShouldBeNil)
			for _, coin := range []coingecko.Coin{
				coingecko.TestCoin("bitcoin", 1),
				coingecko.TestCoin("ethereum", 2),
				coingecko.TestCoin("bitcoin", 1), // page-overlap duplicate
				coingecko.TestCoin("tether", 3),
			} {
				So(snap.Append(coin), ShouldBeNil)
			}
			So(snap.Close(), ShouldBeNil)

			So(p.RunFromSnapshot(ctx, date), ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "")

			csv, err := readGzip(layout.CSVPath(date))
			So(err, ShouldBeNil)
			lines := strings.Split(strings.TrimSpace(csv), "\n")
			So(len(lines), ShouldEqual, 4) // header + 3 rows, duplicate dropped

			_, err = os.Stat(layout.DuckDBPath(date))
			So(err, ShouldBeNil)
			_, err = os.Stat(layout.ParquetPath(date))
			So(err, ShouldBeNil)
		})

		Convey("rebuild fails on a malformed snapshot", func() {
			So(db.WriteFileAtomic(layout.SnapshotPath(date), []byte("{not json\n")), ShouldBeNil)
			err := p.RunFromSnapshot(ctx, date)
			So(err, ShouldNotBeNil)
		})

		Convey("rebuild fails on a zero date", func() {
			So(p.RunFromSnapshot(ctx, db.Date{}), ShouldNotBeNil)
		})
	})
}
