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

package stats

import (
	"sort"

	"github.com/stockparfait/errors"

	"github.com/coinrank/coinrank/db"
)

// Timeseries stores numeric values along with dates. The dates are always
// sorted in ascending order.
type Timeseries struct {
	dates []db.Date
	data  []float64
}

// NewTimeseries creates a new Timeseries. The dates are expected to be sorted
// in ascending order (not checked). It panics if dates and data have
// different lengths. Note, that the argument slices are used as is, not
// copied.
func NewTimeseries(dates []db.Date, data []float64) *Timeseries {
	if len(dates) != len(data) {
		panic(errors.Reason("len(dates) [%d] != len(data) [%d]",
			len(dates), len(data)))
	}
	return &Timeseries{dates: dates, data: data}
}

// Dates of the Timeseries.
func (t *Timeseries) Dates() []db.Date { return t.dates }

// Data of the Timeseries.
func (t *Timeseries) Data() []float64 { return t.data }

// Sample view over the Timeseries values, for summarizing.
func (t *Timeseries) Sample() *Sample {
	return NewSample().Init(t.data)
}

// Check that the Timeseries is consistent: the lengths of dates and data are
// the same and the dates are strictly ascending.
func (t *Timeseries) Check() error {
	if len(t.dates) != len(t.data) {
		return errors.Reason("len(dates) [%d] != len(data) [%d]",
			len(t.dates), len(t.data))
	}
	for i, d := range t.dates {
		if i == 0 {
			continue
		}
		if !t.dates[i-1].Before(d) {
			return errors.Reason("dates[%d] = %s >= dates[%d] = %s",
				i-1, t.dates[i-1], i, d)
		}
	}
	return nil
}

// rangeSlice returns slice indices extracting the inclusive interval between
// the start and end dates.
func rangeSlice(dates []db.Date, start, end db.Date) (s, e int) {
	if start.After(end) {
		return 0, 0
	}
	s = len(dates)
	e = len(dates)
	var startSet, endSet bool
	for i, d := range dates {
		if !startSet && !start.After(d) {
			s = i
			startSet = true
		}
		if !endSet && end.Before(d) {
			e = i
			endSet = true
		}
		if startSet && endSet {
			break
		}
	}
	if s >= e {
		return 0, 0
	}
	return
}

// Range extracts the sub-series from the inclusive date interval. It may
// return an empty Timeseries, but never nil.
func (t *Timeseries) Range(start, end db.Date) *Timeseries {
	s, e := rangeSlice(t.dates, start, end)
	if s == 0 && e == len(t.dates) {
		return t
	}
	return NewTimeseries(t.dates[s:e], t.data[s:e])
}

// SeriesBuilder accumulates (date, value) observations in any order and
// builds a date-sorted Timeseries. The zero value is ready to use.
type SeriesBuilder struct {
	dates []db.Date
	data  []float64
}

// Add one observation.
func (b *SeriesBuilder) Add(d db.Date, v float64) {
	b.dates = append(b.dates, d)
	b.data = append(b.data, v)
}

// Size is the number of observations added so far.
func (b *SeriesBuilder) Size() int { return len(b.dates) }

// Build sorts the accumulated observations by date and returns them as a
// Timeseries. The builder must not be added to after Build.
func (b *SeriesBuilder) Build() *Timeseries {
	order := make([]int, len(b.dates))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return b.dates[order[i]].Before(b.dates[order[j]])
	})
	dates := make([]db.Date, len(order))
	data := make([]float64, len(order))
	for i, j := range order {
		dates[i] = b.dates[j]
		data[i] = b.data[j]
	}
	return NewTimeseries(dates, data)
}
