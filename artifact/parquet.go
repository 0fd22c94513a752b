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

package artifact

import (
	"bytes"
	"context"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	"github.com/coinrank/coinrank/db"
)

const (
	zstdLevel    = 3
	rowGroupSize = 1 << 16
)

// BuildParquet writes the table as a single zstd-compressed Parquet file at
// path, atomically. The Arrow schema is stored in the file metadata, so a
// reader recovers the exact canonical schema. The caller derives path from
// the run date, which puts the file inside its year=/month=/day= partition.
func BuildParquet(ctx context.Context, rec arrow.Record, path string) error {
	if err := ensureCanonical(rec); err != nil {
		return errors.Annotate(err, "Parquet builder")
	}
	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithCompressionLevel(zstdLevel),
		parquet.WithDictionaryDefault(true),
	)
	arrProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	var buf bytes.Buffer
	if err := pqarrow.WriteTable(tbl, &buf, rowGroupSize, props, arrProps); err != nil {
		return errors.Annotate(err, "failed to encode Parquet")
	}
	if err := db.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return errors.Annotate(err, "failed to write Parquet artifact")
	}
	logging.Infof(ctx, "wrote Parquet artifact '%s' (%d rows)", path, rec.NumRows())
	return nil
}

// ReadParquet loads a Parquet artifact back as a single record. The caller
// must Release it.
func ReadParquet(ctx context.Context, path string) (arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open Parquet file '%s'", path)
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read Parquet file '%s'", path)
	}
	defer tbl.Release()

	if tbl.NumRows() == 0 {
		b := array.NewRecordBuilder(memory.DefaultAllocator, tbl.Schema())
		defer b.Release()
		return b.NewRecord(), nil
	}
	rdr := array.NewTableReader(tbl, tbl.NumRows())
	defer rdr.Release()
	if !rdr.Next() {
		return nil, errors.Reason("no record in Parquet file '%s'", path)
	}
	rec := rdr.Record()
	rec.Retain()
	return rec, nil
}
