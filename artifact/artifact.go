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

// Package artifact builds the per-date deliverables from one validated
// canonical table: an embedded DuckDB database, a Parquet file inside a
// Hive-style date partition, and a gzip CSV. All builders read the same
// immutable record and are idempotent per date; rebuilding replaces the
// previous artifact. Builders trust the caller for row-level validation and
// only guard against being handed a non-canonical table.
package artifact

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stockparfait/errors"

	"github.com/coinrank/coinrank/rankings"
)

// ensureCanonical cheaply rejects records that do not carry the canonical
// schema. Field metadata is ignored, so a record read back from a Parquet
// round trip still qualifies.
func ensureCanonical(rec arrow.Record) error {
	want := rankings.Schema()
	got := rec.Schema()
	if len(got.Fields()) != len(want.Fields()) {
		return errors.Reason("not a canonical table: want %d columns, got %d",
			len(want.Fields()), len(got.Fields()))
	}
	for i, wf := range want.Fields() {
		gf := got.Field(i)
		if gf.Name != wf.Name || !arrow.TypeEqual(gf.Type, wf.Type) ||
			gf.Nullable != wf.Nullable {
			return errors.Reason(
				"not a canonical table: column %d is '%s' %s, want '%s' %s",
				i, gf.Name, gf.Type, wf.Name, wf.Type)
		}
	}
	return nil
}
