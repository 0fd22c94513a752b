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

package rankings

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"golang.org/x/exp/slices"
)

// maxDetails caps the per-rule diagnostics; Failures still counts everything.
const maxDetails = 5

// RuleResult is the outcome of a single validation rule.
type RuleResult struct {
	Name     string
	Passed   bool
	Failures int      // offending rows or cells; 0 when Passed
	Details  []string // up to maxDetails diagnostics
}

// Report is the outcome of validating one canonical table. All five rules
// are always evaluated; no rule short-circuits another.
type Report struct {
	Rules []RuleResult
}

// Passed reports whether every rule passed. No artifact may be built from a
// table whose report does not pass.
func (r Report) Passed() bool {
	if len(r.Rules) == 0 {
		return false
	}
	for _, rule := range r.Rules {
		if !rule.Passed {
			return false
		}
	}
	return true
}

// String renders the report, one rule per line, with diagnostics indented.
func (r Report) String() string {
	var sb strings.Builder
	for _, rule := range r.Rules {
		status := "PASS"
		if !rule.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&sb, "%s %s", status, rule.Name)
		if rule.Failures > 0 {
			fmt.Fprintf(&sb, " (%d failures)", rule.Failures)
		}
		sb.WriteByte('\n')
		for _, d := range rule.Details {
			fmt.Fprintf(&sb, "  %s\n", d)
		}
	}
	return sb.String()
}

// Validate applies the five rules to the table and returns their results in
// a fixed order: schema conformance, duplicate keys, required non-null,
// rank contiguity, non-negative values.
func Validate(rec arrow.Record) Report {
	return Report{Rules: []RuleResult{
		checkSchema(rec),
		checkDuplicates(rec),
		checkRequired(rec),
		checkRankRange(rec),
		checkNonNegative(rec),
	}}
}

// columns holds typed views of the canonical columns. Rules 2 through 5
// operate on these; a table whose columns cannot be viewed this way fails
// rule 1 and renders the others not evaluable.
type columns struct {
	date   *array.Date32
	rank   *array.Int64
	id     *array.String
	mcap   *array.Float64
	price  *array.Float64
	volume *array.Float64
}

func tableColumns(rec arrow.Record) (*columns, bool) {
	if rec.NumCols() != NumCols {
		return nil, false
	}
	date, ok := rec.Column(IdxDate).(*array.Date32)
	if !ok {
		return nil, false
	}
	rank, ok := rec.Column(IdxRank).(*array.Int64)
	if !ok {
		return nil, false
	}
	id, ok := rec.Column(IdxCoinID).(*array.String)
	if !ok {
		return nil, false
	}
	mcap, ok := rec.Column(IdxMarketCap).(*array.Float64)
	if !ok {
		return nil, false
	}
	price, ok := rec.Column(IdxPrice).(*array.Float64)
	if !ok {
		return nil, false
	}
	volume, ok := rec.Column(IdxVolume24h).(*array.Float64)
	if !ok {
		return nil, false
	}
	return &columns{
		date:   date,
		rank:   rank,
		id:     id,
		mcap:   mcap,
		price:  price,
		volume: volume,
	}, true
}

func notEvaluable(name string) RuleResult {
	return RuleResult{
		Name:    name,
		Details: []string{"not evaluable: the table does not have the canonical columns"},
	}
}

func detail(res *RuleResult, format string, args ...any) {
	res.Passed = false
	res.Failures++
	if len(res.Details) < maxDetails {
		res.Details = append(res.Details, fmt.Sprintf(format, args...))
	}
}

// checkSchema verifies the exact column names, order, Arrow types and
// nullability. Field metadata is deliberately ignored, since a Parquet
// round-trip may attach its own.
func checkSchema(rec arrow.Record) RuleResult {
	res := RuleResult{Name: "schema conformance", Passed: true}
	want := Schema()
	got := rec.Schema()
	if len(got.Fields()) != len(want.Fields()) {
		detail(&res, "want %d columns, got %d", len(want.Fields()), len(got.Fields()))
		return res
	}
	for i, wf := range want.Fields() {
		gf := got.Field(i)
		if gf.Name != wf.Name || !arrow.TypeEqual(gf.Type, wf.Type) ||
			gf.Nullable != wf.Nullable {
			detail(&res, "column %d: want '%s' %s nullable=%v, got '%s' %s nullable=%v",
				i, wf.Name, wf.Type, wf.Nullable, gf.Name, gf.Type, gf.Nullable)
		}
	}
	return res
}

// checkDuplicates flags rows sharing a (date, coin_id) key. Duplicate ranks
// across distinct coins are legal upstream ties and are not this rule's
// concern.
func checkDuplicates(rec arrow.Record) RuleResult {
	res := RuleResult{Name: "duplicate (date, coin_id) keys", Passed: true}
	cols, ok := tableColumns(rec)
	if !ok {
		return notEvaluable(res.Name)
	}
	type key struct {
		date arrow.Date32
		id   string
	}
	seen := make(map[key]bool, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		if cols.date.IsNull(i) || cols.id.IsNull(i) {
			continue // nulls are the null rule's concern
		}
		k := key{cols.date.Value(i), cols.id.Value(i)}
		if seen[k] {
			detail(&res, "row %d: duplicate key (%s, %s)",
				i, k.date.ToTime().Format("2006-01-02"), k.id)
			continue
		}
		seen[k] = true
	}
	return res
}

// checkRequired verifies that date, rank and coin_id are non-null on every
// row.
func checkRequired(rec arrow.Record) RuleResult {
	res := RuleResult{Name: "required columns non-null", Passed: true}
	cols, ok := tableColumns(rec)
	if !ok {
		return notEvaluable(res.Name)
	}
	for i := 0; i < int(rec.NumRows()); i++ {
		nulls := []string{}
		if cols.date.IsNull(i) {
			nulls = append(nulls, ColDate)
		}
		if cols.rank.IsNull(i) {
			nulls = append(nulls, ColRank)
		}
		if cols.id.IsNull(i) {
			nulls = append(nulls, ColCoinID)
		}
		if len(nulls) > 0 {
			detail(&res, "row %d: null %s", i, strings.Join(nulls, ", "))
		}
	}
	return res
}

// checkRankRange verifies that the sorted ranks are exactly {1..N}: no gaps,
// no duplicates, nothing out of range. A tie that is legal for the duplicate
// rule necessarily fails this one.
func checkRankRange(rec arrow.Record) RuleResult {
	res := RuleResult{Name: "ranks are exactly {1..N}", Passed: true}
	cols, ok := tableColumns(rec)
	if !ok {
		return notEvaluable(res.Name)
	}
	n := int(rec.NumRows())
	ranks := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		if cols.rank.IsNull(i) {
			continue // nulls are the null rule's concern
		}
		ranks = append(ranks, cols.rank.Value(i))
	}
	if len(ranks) < n {
		detail(&res, "only %d of %d rows have a rank", len(ranks), n)
	}
	slices.Sort(ranks)
	for i, rank := range ranks {
		if rank != int64(i+1) {
			detail(&res, "sorted rank %d is %d, want %d", i, rank, i+1)
		}
	}
	return res
}

// checkNonNegative verifies market_cap, price and volume_24h are >= 0
// wherever non-null. The comparison is written so that NaN also fails.
func checkNonNegative(rec arrow.Record) RuleResult {
	res := RuleResult{Name: "non-negative market_cap, price, volume_24h", Passed: true}
	cols, ok := tableColumns(rec)
	if !ok {
		return notEvaluable(res.Name)
	}
	check := func(i int, col *array.Float64, name string) {
		if col.IsNull(i) {
			return
		}
		if v := col.Value(i); !(v >= 0) {
			detail(&res, "row %d: %s = %v", i, name, v)
		}
	}
	for i := 0; i < int(rec.NumRows()); i++ {
		check(i, cols.mcap, ColMarketCap)
		check(i, cols.price, ColPrice)
		check(i, cols.volume, ColVolume24h)
	}
	return res
}
