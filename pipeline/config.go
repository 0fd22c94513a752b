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
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/stockparfait/errors"

	"github.com/coinrank/coinrank/coingecko"
	"github.com/coinrank/coinrank/coingecko/markets"
	"github.com/coinrank/coinrank/ratelimit"
)

// Config is the run configuration, normally loaded from a TOML file. The
// credential is carried here explicitly; nothing deeper in the call chain
// reads the environment.
type Config struct {
	DataDir    string `toml:"data_dir"`    // root of all run outputs
	APIKey     string `toml:"api_key"`     // empty selects the keyless limiter tier
	PerPage    int    `toml:"per_page"`    // upstream page size, at most 250
	MaxPages   int    `toml:"max_pages"`   // safety cap on pages per run
	MaxRetries int    `toml:"max_retries"` // transient retries per page

	// Limiter overrides the pacing chosen by credential presence. Not part
	// of the file format; tests use it to avoid real delays.
	Limiter *ratelimit.Config `toml:"-"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		DataDir:    "data",
		PerPage:    coingecko.MaxPerPage,
		MaxPages:   markets.DefaultMaxPages,
		MaxRetries: markets.DefaultMaxRetries,
	}
}

// LoadConfig reads a TOML config file over the defaults. Unknown keys are an
// error, so a typo cannot silently disable a setting.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Annotate(err, "failed to open config '%s'", path)
	}
	defer f.Close()

	d := toml.NewDecoder(f)
	d.DisallowUnknownFields()
	if err := d.Decode(&cfg); err != nil {
		return cfg, errors.Annotate(err, "failed to parse config '%s'", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Annotate(err, "invalid config '%s'", path)
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.Reason("data_dir must not be empty")
	}
	if c.PerPage < 1 || c.PerPage > coingecko.MaxPerPage {
		return errors.Reason("per_page = %d, must be in [1..%d]",
			c.PerPage, coingecko.MaxPerPage)
	}
	if c.MaxPages < 1 {
		return errors.Reason("max_pages = %d, must be positive", c.MaxPages)
	}
	if c.MaxRetries < 0 {
		return errors.Reason("max_retries = %d, must not be negative", c.MaxRetries)
	}
	return nil
}
