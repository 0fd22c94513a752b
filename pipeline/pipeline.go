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

// Package pipeline wires one collection run end to end: collect the listing,
// transform it into the canonical table, validate, and build the artifacts.
// A run is all-or-nothing: artifacts are staged and moved into place only
// after every builder succeeded, and the collection checkpoint is cleared
// last of all, so any earlier failure leaves a resumable state behind.
package pipeline

import (
	"context"
	"encoding/json"
	"os"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"github.com/coinrank/coinrank/artifact"
	"github.com/coinrank/coinrank/checkpoint"
	"github.com/coinrank/coinrank/coingecko"
	"github.com/coinrank/coinrank/coingecko/markets"
	"github.com/coinrank/coinrank/db"
	"github.com/coinrank/coinrank/rankings"
	"github.com/coinrank/coinrank/ratelimit"
)

// stagingSuffix marks an artifact that is built but not yet committed.
const stagingSuffix = ".staging"

// Pipeline runs collections against one data directory.
type Pipeline struct {
	cfg       Config
	layout    db.Layout
	store     checkpoint.Store
	collector *markets.Collector
}

// New creates a Pipeline: file-backed checkpoints under the data directory
// and a limiter tier chosen by credential presence.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotate(err, "invalid configuration")
	}
	layout := db.NewLayout(cfg.DataDir)
	store := checkpoint.NewFileStore(layout.CheckpointDir())
	lcfg := ratelimit.TierConfig(cfg.APIKey != "")
	if cfg.Limiter != nil {
		lcfg = *cfg.Limiter
	}
	limiter := ratelimit.New(lcfg)
	collector := markets.New(limiter, store, layout, markets.Config{
		MaxPages:   cfg.MaxPages,
		MaxRetries: cfg.MaxRetries,
	})
	return &Pipeline{
		cfg:       cfg,
		layout:    layout,
		store:     store,
		collector: collector,
	}, nil
}

// Layout returns the pipeline's data directory layout.
func (p *Pipeline) Layout() db.Layout { return p.layout }

// Run collects the listing for date and builds all artifacts from it. The
// checkpoint is cleared only after the last artifact is in place, so a
// failed run resumes collection at its terminal page for the cost of a
// single request.
func (p *Pipeline) Run(ctx context.Context, date db.Date) error {
	ctx = coingecko.UseClient(ctx, coingecko.Config{
		APIKey:  p.cfg.APIKey,
		PerPage: p.cfg.PerPage,
	})
	res, err := p.collector.Collect(ctx, date)
	if err != nil {
		return errors.Annotate(err, "collection for %s failed", date)
	}
	if err := p.buildAll(ctx, res.Coins, date); err != nil {
		return err
	}
	if err := p.store.Clear(date.String()); err != nil {
		return errors.Annotate(err, "failed to clear the checkpoint for %s", date)
	}
	logging.Infof(ctx, "run for %s complete: %d coins, %d API calls",
		date, len(res.Coins), res.APICalls)
	return nil
}

// RunFromSnapshot rebuilds all artifacts for date from the raw snapshot,
// without any network access. Deduplication is re-applied first-wins in
// line order, which reproduces the collector's behavior.
func (p *Pipeline) RunFromSnapshot(ctx context.Context, date db.Date) error {
	if date.IsZero() {
		return errors.Reason("rebuild date is not set")
	}
	raw, err := db.ReadSnapshot(p.layout.SnapshotPath(date))
	if err != nil {
		return errors.Annotate(err, "failed to read the raw snapshot for %s", date)
	}
	coins := make([]coingecko.Coin, len(raw))
	for i, line := range raw {
		if err := json.Unmarshal(line, &coins[i]); err != nil {
			return errors.Annotate(err, "malformed snapshot record %d", i+1)
		}
	}
	deduped, dropped := markets.Dedup(coins)
	logging.Infof(ctx, "rebuilding %s from snapshot: %d records, %d duplicates dropped",
		date, len(deduped), dropped)
	return p.buildAll(ctx, deduped, date)
}

// buildAll transforms, validates and builds every artifact. Artifacts are
// built at staging paths and renamed into place only after all of them
// succeeded, so a failed builder leaves the previous artifacts untouched.
func (p *Pipeline) buildAll(ctx context.Context, coins []coingecko.Coin, date db.Date) error {
	rec, err := rankings.Transform(coins, date)
	if err != nil {
		return errors.Annotate(err, "failed to transform the listing for %s", date)
	}
	defer rec.Release()

	report := rankings.Validate(rec)
	logging.Infof(ctx, "validation report for %s:\n%s", date, report)
	if !report.Passed() {
		return errors.Reason(
			"validation failed for %s, no artifacts were built", date)
	}

	duck := p.layout.DuckDBPath(date)
	parq := p.layout.ParquetPath(date)
	csv := p.layout.CSVPath(date)

	staged := []struct {
		from, to string
	}{
		{duck + stagingSuffix, duck},
		{parq + stagingSuffix, parq},
		{csv + stagingSuffix, csv},
	}
	cleanup := func() {
		for _, s := range staged {
			os.Remove(s.from)
		}
	}
	if err := artifact.BuildDuckDB(ctx, rec, staged[0].from); err != nil {
		cleanup()
		return errors.Annotate(err, "DuckDB build for %s failed", date)
	}
	if err := artifact.BuildParquet(ctx, rec, staged[1].from); err != nil {
		cleanup()
		return errors.Annotate(err, "Parquet build for %s failed", date)
	}
	if err := artifact.BuildCSV(ctx, rec, staged[2].from); err != nil {
		cleanup()
		return errors.Annotate(err, "CSV build for %s failed", date)
	}
	for _, s := range staged {
		if err := os.Rename(s.from, s.to); err != nil {
			cleanup()
			return errors.Annotate(err, "failed to commit artifact '%s'", s.to)
		}
	}
	return nil
}
