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
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/coinrank/coinrank/db"
)

func TestTimeseries(t *testing.T) {
	t.Parallel()

	Convey("Timeseries works correctly", t, func() {
		dates := []db.Date{
			db.NewDate(2025, 11, 20),
			db.NewDate(2025, 11, 21),
			db.NewDate(2025, 11, 22),
			db.NewDate(2025, 11, 24),
		}
		data := []float64{10.0, 20.0, 30.0, 40.0}
		ts := NewTimeseries(dates, data)

		Convey("accessors and Check", func() {
			So(ts.Dates(), ShouldResemble, dates)
			So(ts.Data(), ShouldResemble, data)
			So(ts.Check(), ShouldBeNil)
			So(ts.Sample().Mean(), ShouldEqual, 25.0)
		})

		Convey("Check catches out of order dates", func() {
			bad := NewTimeseries([]db.Date{
				db.NewDate(2025, 11, 21),
				db.NewDate(2025, 11, 21),
			}, []float64{1.0, 2.0})
			So(bad.Check(), ShouldNotBeNil)
		})

		Convey("Range is inclusive on both ends", func() {
			r := ts.Range(db.NewDate(2025, 11, 21), db.NewDate(2025, 11, 22))
			So(r.Dates(), ShouldResemble, dates[1:3])
			So(r.Data(), ShouldResemble, data[1:3])
		})

		Convey("Range outside the series is empty", func() {
			r := ts.Range(db.NewDate(2025, 12, 1), db.NewDate(2025, 12, 31))
			So(len(r.Dates()), ShouldEqual, 0)
		})

		Convey("Range with inverted bounds is empty", func() {
			r := ts.Range(db.NewDate(2025, 11, 22), db.NewDate(2025, 11, 21))
			So(len(r.Dates()), ShouldEqual, 0)
		})
	})
}

func TestSeriesBuilder(t *testing.T) {
	t.Parallel()

	Convey("SeriesBuilder sorts observations by date", t, func() {
		var b SeriesBuilder
		b.Add(db.NewDate(2025, 11, 22), 30.0)
		b.Add(db.NewDate(2025, 11, 20), 10.0)
		b.Add(db.NewDate(2025, 11, 21), 20.0)
		So(b.Size(), ShouldEqual, 3)

		ts := b.Build()
		So(ts.Check(), ShouldBeNil)
		So(ts.Dates(), ShouldResemble, []db.Date{
			db.NewDate(2025, 11, 20),
			db.NewDate(2025, 11, 21),
			db.NewDate(2025, 11, 22),
		})
		So(ts.Data(), ShouldResemble, []float64{10.0, 20.0, 30.0})
	})

	Convey("empty builder builds an empty series", t, func() {
		var b SeriesBuilder
		ts := b.Build()
		So(ts.Check(), ShouldBeNil)
		So(len(ts.Dates()), ShouldEqual, 0)
	})
}
