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
	"math"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stockparfait/errors"

	"github.com/coinrank/coinrank/coingecko"
	"github.com/coinrank/coinrank/db"
)

// Transform converts the raw listing records into the canonical table. The
// upstream is duck-typed: the same logical field may arrive as a number for
// one coin and as a string for another, so this is the single trust boundary
// where every value is coerced. Required fields (coin id and rank; the date
// comes from the run itself) fail hard on a missing or unparseable value and
// abort the whole run. All other fields coerce totally: numbers and numeric
// strings parse, everything else becomes null.
//
// The caller owns the returned record and must Release it.
func Transform(coins []coingecko.Coin, date db.Date) (arrow.Record, error) {
	if date.IsZero() {
		return nil, errors.Reason("the run date is not set")
	}

	b := array.NewRecordBuilder(memory.DefaultAllocator, Schema())
	defer b.Release()

	dateB := b.Field(IdxDate).(*array.Date32Builder)
	rankB := b.Field(IdxRank).(*array.Int64Builder)
	idB := b.Field(IdxCoinID).(*array.StringBuilder)
	symbolB := b.Field(IdxSymbol).(*array.StringBuilder)
	nameB := b.Field(IdxName).(*array.StringBuilder)
	capB := b.Field(IdxMarketCap).(*array.Float64Builder)
	priceB := b.Field(IdxPrice).(*array.Float64Builder)
	volumeB := b.Field(IdxVolume24h).(*array.Float64Builder)
	changeB := b.Field(IdxPriceChange24h).(*array.Float64Builder)

	// The run date is parsed once and applied to every row.
	day := arrow.Date32FromTime(date.ToTime())

	for i, coin := range coins {
		id, ok := coin.ID()
		if !ok {
			return nil, errors.Reason("record %d has no coin id", i)
		}
		rank, err := value2rank(coin["market_cap_rank"])
		if err != nil {
			return nil, errors.Annotate(err, "coin '%s' (record %d)", id, i)
		}

		dateB.Append(day)
		rankB.Append(rank)
		idB.Append(id)
		appendStr(symbolB, coin["symbol"])
		appendStr(nameB, coin["name"])
		appendNum(capB, coin["market_cap"])
		appendNum(priceB, coin["current_price"])
		appendNum(volumeB, coin["total_volume"])
		appendNum(changeB, coin["price_change_percentage_24h"])
	}
	return b.NewRecord(), nil
}

// value2rank coerces the required rank field: a missing or unparseable rank
// is a hard error for the record.
func value2rank(v any) (int64, error) {
	switch num := v.(type) {
	case float64: // JSON numbers always unmarshal to float64
		if float64(int64(num)) != num {
			return 0, errors.Reason("rank %v is not an integer", num)
		}
		return int64(num), nil
	case string:
		if n, err := strconv.ParseInt(num, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || float64(int64(f)) != f {
			return 0, errors.Reason("rank '%s' is not an integer", num)
		}
		return int64(f), nil
	}
	if v == nil {
		return 0, errors.Reason("rank is missing")
	}
	return 0, errors.Reason("expected an integer rank but found %T: %v", v, v)
}

// value2num coerces an optional numeric field. Null, absent and unparseable
// values report ok=false and land in the table as null. NaN and infinities
// parsed from string payloads are unusable downstream and also become null.
func value2num(v any) (float64, bool) {
	switch num := v.(type) {
	case float64:
		return num, true
	case string:
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// value2str coerces an optional string field; any non-string becomes null.
func value2str(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func appendNum(b *array.Float64Builder, v any) {
	if num, ok := value2num(v); ok {
		b.Append(num)
	} else {
		b.AppendNull()
	}
}

func appendStr(b *array.StringBuilder, v any) {
	if s, ok := value2str(v); ok {
		b.Append(s)
	} else {
		b.AppendNull()
	}
}
