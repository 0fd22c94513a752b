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

// Package markets implements the paginated download of one day's full
// market-cap listing. The collector paces itself through the rate limiter,
// checkpoints after every successful page so an interrupted run resumes
// without re-fetching, appends every raw record to the day's snapshot, and
// deduplicates coins across pages (the upstream occasionally serves the same
// coin on two pages while the listing shifts under the pagination).
package markets

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"github.com/coinrank/coinrank/checkpoint"
	"github.com/coinrank/coinrank/coingecko"
	"github.com/coinrank/coinrank/db"
	"github.com/coinrank/coinrank/ratelimit"
	"github.com/coinrank/coinrank/stats"
)

// Collection loop defaults.
const (
	DefaultMaxPages   = 100 // hard stop on the page index
	DefaultMaxRetries = 3   // transient retries per page after the first attempt
)

// Config bounds one collection run.
type Config struct {
	MaxPages   int
	MaxRetries int
}

// retryState is the lifecycle of a single page request.
type retryState int

const (
	stateIdle retryState = iota
	stateRequesting
	stateBackoff
	stateExhausted
)

func (s retryState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRequesting:
		return "requesting"
	case stateBackoff:
		return "backoff"
	case stateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// checkpointData is the persisted resume state. The records collected so far
// travel in the checkpoint, so a resumed run never re-fetches a completed
// page.
type checkpointData struct {
	Date       db.Date          `json:"date"`
	NextPage   int              `json:"next_page"`
	APICalls   int              `json:"api_calls"`
	DupDropped int              `json:"dup_dropped"`
	Coins      []coingecko.Coin `json:"coins"`
}

// Result of a completed collection run.
type Result struct {
	Coins         []coingecko.Coin // deduplicated, in first-seen order
	Pages         int              // pages that returned records, across resumed attempts
	APICalls      int              // upstream requests made, including failed attempts
	DupDropped    int              // duplicate coin ids dropped from Coins
	PageLatencies []float64        // seconds per successful page, this attempt only
	Started       time.Time        // start of this attempt
	Finished      time.Time
}

// Collector drives the paginated download for one date. It is not safe for
// concurrent use; a run owns its date's checkpoint and snapshot by
// convention.
type Collector struct {
	limiter *ratelimit.Limiter
	store   checkpoint.Store
	layout  db.Layout
	cfg     Config
}

// New creates a Collector. Zero config values fall back to the defaults.
func New(limiter *ratelimit.Limiter, store checkpoint.Store, layout db.Layout, cfg Config) *Collector {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Collector{limiter: limiter, store: store, layout: layout, cfg: cfg}
}

// Collect downloads the full listing for the date, resuming from a prior
// checkpoint when one exists. Pages are fetched in strictly increasing order;
// pagination ends on a short or empty page. On completion the collection
// metadata is written next to the raw snapshot. The checkpoint is left in
// place: clearing it after the artifacts are built is the caller's job, so
// that a failed build can still resume cheaply.
func (c *Collector) Collect(ctx context.Context, date db.Date) (*Result, error) {
	client := coingecko.GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("no upstream client in context")
	}
	if date.IsZero() {
		return nil, errors.Reason("collection date is not set")
	}
	key := date.String()

	res := &Result{Started: time.Now()}
	seen := make(map[string]bool)
	nextPage := 1
	if saved, ok, err := c.loadCheckpoint(ctx, key, date); err != nil {
		return nil, err
	} else if ok {
		res.Coins = saved.Coins
		res.Pages = saved.NextPage - 1
		res.APICalls = saved.APICalls
		res.DupDropped = saved.DupDropped
		nextPage = saved.NextPage
		for _, coin := range saved.Coins {
			if id, ok := coin.ID(); ok {
				seen[id] = true
			}
		}
		logging.Infof(ctx, "resuming collection for %s at page %d, %d coins so far",
			key, nextPage, len(res.Coins))
	} else {
		logging.Infof(ctx, "collecting rankings for %s", key)
	}

	snap, err := db.OpenSnapshot(c.layout.SnapshotPath(date))
	if err != nil {
		return nil, errors.Annotate(err, "failed to open raw snapshot for %s", key)
	}
	defer snap.Close()

	for page := nextPage; ; page++ {
		if page > c.cfg.MaxPages {
			logging.Warningf(ctx, "stopping at the %d page safety cap", c.cfg.MaxPages)
			break
		}
		coins, calls, latency, err := c.fetchPage(ctx, page)
		res.APICalls += calls
		if err != nil {
			return nil, errors.Annotate(err, "collection for %s aborted", key)
		}
		if len(coins) == 0 {
			logging.Infof(ctx, "page %d is empty, listing complete", page)
			break
		}
		res.Pages++
		res.PageLatencies = append(res.PageLatencies, latency)

		// The snapshot is written before the checkpoint: a crash between the
		// two re-fetches the page on resume, and the snapshot tolerates the
		// repeated records.
		for _, coin := range coins {
			if err := snap.Append(coin); err != nil {
				return nil, errors.Annotate(err, "failed to record page %d for %s", page, key)
			}
		}
		if err := snap.Flush(); err != nil {
			return nil, errors.Annotate(err, "failed to record page %d for %s", page, key)
		}

		for _, coin := range coins {
			id, ok := coin.ID()
			if !ok {
				// No id to deduplicate by. Keep the record; the transformer
				// reports it with full context.
				res.Coins = append(res.Coins, coin)
				continue
			}
			if seen[id] {
				res.DupDropped++
				continue
			}
			seen[id] = true
			res.Coins = append(res.Coins, coin)
		}

		if err := c.saveCheckpoint(key, checkpointData{
			Date:       date,
			NextPage:   page + 1,
			APICalls:   res.APICalls,
			DupDropped: res.DupDropped,
			Coins:      res.Coins,
		}); err != nil {
			return nil, err
		}
		logging.Infof(ctx, "page %d: %d records, %d coins total, %d duplicates dropped",
			page, len(coins), len(res.Coins), res.DupDropped)

		if len(coins) < client.PerPage() {
			logging.Infof(ctx, "short page %d ends the listing", page)
			break
		}
	}
	res.Finished = time.Now()

	if err := c.writeMeta(date, res); err != nil {
		return nil, err
	}
	logging.Infof(ctx, "collected %d coins for %s in %d pages, %d API calls, %d duplicates dropped",
		len(res.Coins), key, res.Pages, res.APICalls, res.DupDropped)
	return res, nil
}

// fetchPage requests one page, retrying transient failures until the retry
// budget is exhausted. It returns the page records, the number of upstream
// calls made, and the latency of the successful call in seconds.
func (c *Collector) fetchPage(ctx context.Context, page int) ([]coingecko.Coin, int, float64, error) {
	var (
		state    = stateIdle
		attempts int
		lastErr  error
	)
	for {
		logging.Debugf(ctx, "page %d: %s", page, state)
		switch state {
		case stateIdle, stateBackoff:
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, attempts, 0, errors.Annotate(err, "interrupted while pacing page %d", page)
			}
			state = stateRequesting
		case stateRequesting:
			start := time.Now()
			coins, err := coingecko.Markets(ctx, page)
			attempts++
			if err == nil {
				c.limiter.OnSuccess()
				return coins, attempts, time.Since(start).Seconds(), nil
			}
			if !coingecko.IsTransient(err) {
				return nil, attempts, 0, errors.Annotate(err, "permanent failure on page %d", page)
			}
			lastErr = err
			c.limiter.OnThrottled()
			if attempts > c.cfg.MaxRetries {
				state = stateExhausted
				continue
			}
			logging.Warningf(ctx, "transient failure on page %d, attempt %d of %d, next delay %s: %s",
				page, attempts, c.cfg.MaxRetries+1, c.limiter.Delay(), err.Error())
			state = stateBackoff
		case stateExhausted:
			return nil, attempts, 0, errors.Annotate(lastErr,
				"page %d: retry budget exhausted after %d attempts", page, attempts)
		}
	}
}

// loadCheckpoint reads and decodes the resume state. A checkpoint that exists
// but does not decode, or that was written for another date, is discarded
// with a warning and the run starts fresh.
func (c *Collector) loadCheckpoint(ctx context.Context, key string, date db.Date) (checkpointData, bool, error) {
	var saved checkpointData
	data, ok, err := c.store.Get(key)
	if err != nil {
		return saved, false, errors.Annotate(err, "failed to read checkpoint for %s", key)
	}
	if !ok {
		return saved, false, nil
	}
	if err := json.Unmarshal(data, &saved); err != nil || saved.Date != date || saved.NextPage < 1 {
		logging.Warningf(ctx, "discarding unusable checkpoint for %s", key)
		if err := c.store.Clear(key); err != nil {
			return saved, false, errors.Annotate(err, "failed to clear checkpoint for %s", key)
		}
		return checkpointData{}, false, nil
	}
	return saved, true, nil
}

func (c *Collector) saveCheckpoint(key string, cp checkpointData) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Annotate(err, "failed to encode checkpoint for %s", key)
	}
	if err := c.store.Put(key, data); err != nil {
		return errors.Annotate(err, "failed to store checkpoint for %s", key)
	}
	return nil
}

func (c *Collector) writeMeta(date db.Date, res *Result) error {
	latencies := stats.NewSample().Init(res.PageLatencies)
	started := db.Time(res.Started.UTC().Truncate(time.Second))
	finished := db.Time(res.Finished.UTC().Truncate(time.Second))
	meta := db.CollectionMeta{
		Date:            date,
		TotalCoins:      len(res.Coins),
		Pages:           res.Pages,
		APICalls:        res.APICalls,
		DupDropped:      res.DupDropped,
		DurationSec:     res.Finished.Sub(res.Started).Seconds(),
		LatencyMeanSec:  latencies.Mean(),
		LatencySigmaSec: latencies.Sigma(),
		Started:         &started,
		Finished:        &finished,
	}
	if err := db.WriteCollectionMeta(c.layout.MetaPath(date), meta); err != nil {
		return errors.Annotate(err, "failed to write collection metadata for %s", date)
	}
	return nil
}

// Dedup drops records whose coin id was already seen, keeping the first
// occurrence. Records without a usable id pass through. This is the same
// policy the collector applies page by page, packaged for replaying a raw
// snapshot.
func Dedup(coins []coingecko.Coin) ([]coingecko.Coin, int) {
	seen := make(map[string]bool, len(coins))
	out := make([]coingecko.Coin, 0, len(coins))
	dropped := 0
	for _, coin := range coins {
		id, ok := coin.ID()
		if ok && seen[id] {
			dropped++
			continue
		}
		if ok {
			seen[id] = true
		}
		out = append(out, coin)
	}
	return out, dropped
}
