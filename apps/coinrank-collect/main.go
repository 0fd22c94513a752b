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

package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"github.com/coinrank/coinrank/db"
	"github.com/coinrank/coinrank/pipeline"
)

type Flags struct {
	Config       string // optional TOML config file
	DataDir      string // overrides the config's data_dir
	APIKey       string // overrides the config's api_key
	Date         db.Date
	FromSnapshot bool // rebuild from the raw snapshot, no network
	LogLevel     logging.Level
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("coinrank-collect", flag.ExitOnError)
	fs.StringVar(&flags.Config, "conf", "", "config file (optional)")
	fs.StringVar(&flags.DataDir, "data-dir", "",
		"data directory; overrides the config")
	fs.StringVar(&flags.APIKey, "api-key", "",
		"CoinGecko API key; overrides the config")
	var date string
	fs.StringVar(&date, "date", "",
		"collection date as YYYY-MM-DD; default: today in UTC")
	fs.BoolVar(&flags.FromSnapshot, "from-snapshot", false,
		"rebuild artifacts from the raw snapshot instead of collecting")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	flags.Date = db.Today(time.Now().UTC())
	if date != "" {
		d, err := db.NewDateFromString(date)
		if err != nil {
			return nil, errors.Annotate(err, "invalid -date value '%s'", date)
		}
		flags.Date = d
	}
	return &flags, nil
}

// loadConfig resolves the effective configuration: the config file when
// given, with flag overrides applied on top.
func loadConfig(flags *Flags) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	if flags.Config != "" {
		var err error
		if cfg, err = pipeline.LoadConfig(flags.Config); err != nil {
			return cfg, err
		}
	}
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if flags.APIKey != "" {
		cfg.APIKey = flags.APIKey
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Annotate(err, "invalid configuration")
	}
	return cfg, nil
}

func collect(ctx context.Context, flags *Flags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return errors.Annotate(err, "failed to load config")
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return errors.Annotate(err, "failed to create the pipeline")
	}
	if flags.FromSnapshot {
		return p.RunFromSnapshot(ctx, flags.Date)
	}
	return p.Run(ctx, flags.Date)
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

	if err := collect(ctx, flags); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
