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

// Command coinrank-query reads collected artifacts back. It has three
// subcommands: "top" queries the DuckDB artifact for one date, "history"
// follows a single coin across the Parquet partitions, and "check"
// re-validates a date's Parquet artifact.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/iterator"
	"github.com/stockparfait/logging"

	"github.com/coinrank/coinrank/artifact"
	"github.com/coinrank/coinrank/db"
	"github.com/coinrank/coinrank/rankings"
	"github.com/coinrank/coinrank/stats"
	"github.com/coinrank/coinrank/table"

	_ "github.com/marcboeker/go-duckdb/v2"
)

type Flags struct {
	Command  string // top, history or check
	DataDir  string
	Date     db.Date // top, check: which date to query
	Coin     string  // history: the coin id to follow
	From, To db.Date // history: optional date bounds
	N        int     // top: number of rows to print
	MinCap   float64 // top: minimum market cap in USD
	CSV      bool
	LogLevel logging.Level
}

func parseFlags(args []string) (*Flags, error) {
	if len(args) == 0 {
		return nil, errors.Reason("expected a command: top, history or check")
	}
	var flags Flags
	flags.Command = args[0]
	fs := flag.NewFlagSet("coinrank-query "+flags.Command, flag.ExitOnError)
	fs.StringVar(&flags.DataDir, "data-dir", "data", "data directory")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")

	var date, from, to string
	switch flags.Command {
	case "top":
		fs.StringVar(&date, "date", "", "date as YYYY-MM-DD (required)")
		fs.IntVar(&flags.N, "n", 25, "number of top coins to print")
		fs.Float64Var(&flags.MinCap, "min-cap", 0,
			"drop rows with market cap below this, in USD")
		fs.BoolVar(&flags.CSV, "csv", false,
			"print table in CSV format; default: text")
	case "history":
		fs.StringVar(&flags.Coin, "coin", "",
			"coin id to follow, e.g. bitcoin (required)")
		fs.StringVar(&from, "from", "", "start date as YYYY-MM-DD (optional)")
		fs.StringVar(&to, "to", "", "end date as YYYY-MM-DD (optional)")
		fs.BoolVar(&flags.CSV, "csv", false,
			"print table in CSV format; default: text")
	case "check":
		fs.StringVar(&date, "date", "", "date as YYYY-MM-DD (required)")
	default:
		return nil, errors.Reason(
			"unknown command '%s'; expected top, history or check", flags.Command)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	var err error
	switch flags.Command {
	case "top", "check":
		if date == "" {
			return nil, errors.Reason("missing required -date argument")
		}
		if flags.Date, err = db.NewDateFromString(date); err != nil {
			return nil, errors.Annotate(err, "invalid -date value '%s'", date)
		}
	case "history":
		if flags.Coin == "" {
			return nil, errors.Reason("missing required -coin argument")
		}
		if from != "" {
			if flags.From, err = db.NewDateFromString(from); err != nil {
				return nil, errors.Annotate(err, "invalid -from value '%s'", from)
			}
		}
		if to != "" {
			if flags.To, err = db.NewDateFromString(to); err != nil {
				return nil, errors.Annotate(err, "invalid -to value '%s'", to)
			}
		}
	}
	if flags.Command == "top" && flags.N < 1 {
		return nil, errors.Reason("-n = %d, must be positive", flags.N)
	}
	return &flags, nil
}

func printTable(tbl *table.Table, csv bool, w io.Writer) error {
	if csv {
		if err := tbl.WriteCSV(w, table.Params{}); err != nil {
			return errors.Annotate(err, "failed to print CSV")
		}
		return nil
	}
	if err := tbl.WriteText(w, table.Params{}); err != nil {
		return errors.Annotate(err, "failed to print text")
	}
	return nil
}

func nullStr(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

func nullFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

// printTop queries the date's DuckDB artifact for the highest-ranked coins.
func printTop(ctx context.Context, flags *Flags, w io.Writer) error {
	layout := db.NewLayout(flags.DataDir)
	path := layout.DuckDBPath(flags.Date)
	if _, err := os.Stat(path); err != nil {
		return errors.Annotate(err, "no DuckDB artifact for %s in '%s'",
			flags.Date, flags.DataDir)
	}
	conn, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return errors.Annotate(err, "failed to open '%s'", path)
	}
	defer conn.Close()

	query := `SELECT rank, coin_id, symbol, name,
  market_cap, price, volume_24h, price_change_24h_pct
FROM rankings ORDER BY rank LIMIT ?`
	args := []any{flags.N}
	if flags.MinCap > 0 {
		query = `SELECT rank, coin_id, symbol, name,
  market_cap, price, volume_24h, price_change_24h_pct
FROM rankings WHERE market_cap >= ? ORDER BY rank LIMIT ?`
		args = []any{flags.MinCap, flags.N}
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Annotate(err, "query failed for '%s'", path)
	}
	defer rows.Close()

	tbl := table.NewTable(rankings.ColRank, rankings.ColCoinID,
		rankings.ColSymbol, rankings.ColName, rankings.ColMarketCap,
		rankings.ColPrice, rankings.ColVolume24h, rankings.ColPriceChange24h)
	for rows.Next() {
		var (
			rank                     int64
			id                       string
			symbol, name             sql.NullString
			mcap, price, vol, change sql.NullFloat64
		)
		err := rows.Scan(&rank, &id, &symbol, &name, &mcap, &price, &vol, &change)
		if err != nil {
			return errors.Annotate(err, "failed to scan a row from '%s'", path)
		}
		tbl.AddRow(table.Strings{
			strconv.FormatInt(rank, 10),
			id,
			nullStr(symbol),
			nullStr(name),
			nullFloat(mcap),
			nullFloat(price),
			nullFloat(vol),
			nullFloat(change),
		})
	}
	if err := rows.Err(); err != nil {
		return errors.Annotate(err, "query failed for '%s'", path)
	}
	return printTable(tbl, flags.CSV, w)
}

// observation is one coin's row extracted from one date's partition.
type observation struct {
	date     db.Date
	rank     int64
	mcap     float64
	hasCap   bool
	price    float64
	hasPrice bool
}

// partitionDates lists the dates that have a Parquet partition, unordered.
func partitionDates(layout db.Layout) ([]db.Date, error) {
	pattern := filepath.Join(layout.ParquetRoot(),
		"year=*", "month=*", "day=*", "data.parquet")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Annotate(err, "failed to list Parquet partitions")
	}
	dates := make([]db.Date, 0, len(paths))
	for _, p := range paths {
		d, err := partitionDate(layout, p)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func partitionDate(layout db.Layout, path string) (db.Date, error) {
	rel, err := filepath.Rel(layout.ParquetRoot(), path)
	if err != nil {
		return db.Date{}, errors.Annotate(err, "unexpected partition path '%s'", path)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 {
		return db.Date{}, errors.Reason("unexpected partition path '%s'", path)
	}
	s := strings.TrimPrefix(parts[0], "year=") + "-" +
		strings.TrimPrefix(parts[1], "month=") + "-" +
		strings.TrimPrefix(parts[2], "day=")
	d, err := db.NewDateFromString(s)
	if err != nil {
		return db.Date{}, errors.Annotate(err, "unexpected partition path '%s'", path)
	}
	return d, nil
}

// readObservation extracts the coin's row from the date's Parquet artifact.
// Returns nil without an error when the coin is not listed on that date.
func readObservation(ctx context.Context, layout db.Layout, coin string, d db.Date) (*observation, error) {
	path := layout.ParquetPath(d)
	rec, err := artifact.ReadParquet(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	if rec.NumCols() != rankings.NumCols {
		return nil, errors.Reason("'%s' is not a rankings table", path)
	}
	ids, idsOK := rec.Column(rankings.IdxCoinID).(*array.String)
	ranks, ranksOK := rec.Column(rankings.IdxRank).(*array.Int64)
	caps, capsOK := rec.Column(rankings.IdxMarketCap).(*array.Float64)
	prices, pricesOK := rec.Column(rankings.IdxPrice).(*array.Float64)
	if !idsOK || !ranksOK || !capsOK || !pricesOK {
		return nil, errors.Reason("'%s' is not a rankings table", path)
	}
	for i := 0; i < ids.Len(); i++ {
		if ids.Value(i) != coin {
			continue
		}
		o := &observation{date: d, rank: ranks.Value(i)}
		if caps.IsValid(i) {
			o.mcap, o.hasCap = caps.Value(i), true
		}
		if prices.IsValid(i) {
			o.price, o.hasPrice = prices.Value(i), true
		}
		return o, nil
	}
	return nil, nil
}

// printHistory follows one coin across all partitions within the date
// bounds. Partitions are read in parallel; a failed partition is skipped
// with a warning rather than failing the whole query.
func printHistory(ctx context.Context, flags *Flags, w io.Writer) error {
	layout := db.NewLayout(flags.DataDir)
	all, err := partitionDates(layout)
	if err != nil {
		return err
	}
	dates := make([]db.Date, 0, len(all))
	for _, d := range all {
		if d.InRange(flags.From, flags.To) {
			dates = append(dates, d)
		}
	}

	f := func(d db.Date) *observation {
		o, err := readObservation(ctx, layout, flags.Coin, d)
		if err != nil {
			logging.Warningf(ctx, "skipping %s: %s", d, err.Error())
			return nil
		}
		return o
	}
	pm := iterator.ParallelMap(ctx, 2*runtime.NumCPU(), iterator.FromSlice(dates), f)
	defer pm.Close()

	obs := iterator.Reduce[*observation, []*observation](pm, []*observation{},
		func(o *observation, acc []*observation) []*observation {
			if o == nil {
				return acc
			}
			return append(acc, o)
		})
	if len(obs) == 0 {
		return errors.Reason("no data for coin '%s' in '%s'",
			flags.Coin, flags.DataDir)
	}
	sort.Slice(obs, func(i, j int) bool { return obs[i].date.Before(obs[j].date) })

	tbl := table.NewTable(rankings.ColDate, rankings.ColRank,
		rankings.ColMarketCap, rankings.ColPrice)
	var ranks, caps stats.SeriesBuilder
	for _, o := range obs {
		row := table.Strings{o.date.String(), strconv.FormatInt(o.rank, 10), "", ""}
		ranks.Add(o.date, float64(o.rank))
		if o.hasCap {
			row[2] = strconv.FormatFloat(o.mcap, 'f', -1, 64)
			caps.Add(o.date, o.mcap)
		}
		if o.hasPrice {
			row[3] = strconv.FormatFloat(o.price, 'f', -1, 64)
		}
		tbl.AddRow(row)
	}
	if err := printTable(tbl, flags.CSV, w); err != nil {
		return err
	}
	if flags.CSV {
		return nil
	}
	rs := ranks.Build().Sample()
	fmt.Fprintf(w, "\n%s: %d days, rank mean %.1f sigma %.1f, best %.0f worst %.0f\n",
		flags.Coin, len(obs), rs.Mean(), rs.Sigma(), rs.Min(), rs.Max())
	if caps.Size() > 0 {
		cs := caps.Build().Sample()
		fmt.Fprintf(w, "market cap mean %.4g sigma %.4g\n", cs.Mean(), cs.Sigma())
	}
	return nil
}

// checkArtifact re-validates the date's Parquet artifact and prints the
// report. A failed report is also an error, so the exit status is usable in
// scripts.
func checkArtifact(ctx context.Context, flags *Flags, w io.Writer) error {
	layout := db.NewLayout(flags.DataDir)
	rec, err := artifact.ReadParquet(ctx, layout.ParquetPath(flags.Date))
	if err != nil {
		return errors.Annotate(err, "failed to read the Parquet artifact for %s",
			flags.Date)
	}
	defer rec.Release()

	report := rankings.Validate(rec)
	fmt.Fprint(w, report)
	if !report.Passed() {
		return errors.Reason("validation failed for %s", flags.Date)
	}
	return nil
}

func run(ctx context.Context, flags *Flags, w io.Writer) error {
	switch flags.Command {
	case "top":
		return printTop(ctx, flags, w)
	case "history":
		return printHistory(ctx, flags, w)
	case "check":
		return checkArtifact(ctx, flags, w)
	}
	return errors.Reason("unknown command '%s'", flags.Command)
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := run(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
