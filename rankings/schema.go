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

// Package rankings turns the raw listing records into the canonical columnar
// table and validates it. The table is a single Arrow record with a fixed
// schema; every artifact builder reads the same immutable record, so nothing
// downstream re-derives or re-checks the data.
package rankings

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Column names of the canonical rankings table, in schema order.
const (
	ColDate           = "date"
	ColRank           = "rank"
	ColCoinID         = "coin_id"
	ColSymbol         = "symbol"
	ColName           = "name"
	ColMarketCap      = "market_cap"
	ColPrice          = "price"
	ColVolume24h      = "volume_24h"
	ColPriceChange24h = "price_change_24h_pct"
)

// Column indices in the canonical schema.
const (
	IdxDate = iota
	IdxRank
	IdxCoinID
	IdxSymbol
	IdxName
	IdxMarketCap
	IdxPrice
	IdxVolume24h
	IdxPriceChange24h

	NumCols
)

// Schema returns the canonical Arrow schema of one day's rankings table.
// Column order, types and nullability are all fixed; the validator rejects
// any deviation.
func Schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: ColDate, Type: arrow.FixedWidthTypes.Date32, Nullable: false},
		{Name: ColRank, Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: ColCoinID, Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: ColSymbol, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColName, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColMarketCap, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: ColPrice, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: ColVolume24h, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: ColPriceChange24h, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
}
