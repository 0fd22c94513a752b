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

// Package db defines the on-disk layout of everything a collection run
// produces: the append-only raw snapshot, the collection metadata, and the
// per-date artifact paths (DuckDB, Parquet partitions, CSV). All files are
// keyed by the run's logical date; one run owns its date's files by
// convention, without locking.
package db

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stockparfait/errors"
)

// Layout computes file locations under a single data directory root.
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{root: dir}
}

// Root returns the data directory root.
func (l Layout) Root() string { return l.root }

// CheckpointDir is the directory holding per-date checkpoint files.
func (l Layout) CheckpointDir() string {
	return filepath.Join(l.root, "checkpoints")
}

// SnapshotPath is the append-only JSONL file of raw records for the date.
func (l Layout) SnapshotPath(d Date) string {
	return filepath.Join(l.root, "raw", "coins_"+d.String()+".jsonl")
}

// MetaPath is the collection metadata file for the date.
func (l Layout) MetaPath(d Date) string {
	return filepath.Join(l.root, "raw", "collection_meta_"+d.String()+".json")
}

// DuckDBPath is the embedded database artifact for the date.
func (l Layout) DuckDBPath(d Date) string {
	return filepath.Join(l.root, "duckdb", "coin_rankings_"+d.String()+".duckdb")
}

// ParquetRoot is the root of the Hive-partitioned Parquet tree.
func (l Layout) ParquetRoot() string {
	return filepath.Join(l.root, "parquet")
}

// PartitionDir is the year=/month=/day= directory for the date.
func (l Layout) PartitionDir(d Date) string {
	return filepath.Join(l.ParquetRoot(),
		fmt.Sprintf("year=%04d", d.Year()),
		fmt.Sprintf("month=%02d", d.Month()),
		fmt.Sprintf("day=%02d", d.Day()))
}

// ParquetPath is the Parquet data file within the date's partition.
func (l Layout) ParquetPath(d Date) string {
	return filepath.Join(l.PartitionDir(d), "data.parquet")
}

// CSVPath is the gzip CSV artifact for the date.
func (l Layout) CSVPath(d Date) string {
	return filepath.Join(l.root, "csv", "coin_rankings_"+d.String()+".csv.gz")
}

// CollectionMeta summarizes one completed collection run. It is written next
// to the raw snapshot when the run finishes, and is purely informational: no
// downstream step reads it back to make decisions.
type CollectionMeta struct {
	Date            Date    `json:"date"`
	TotalCoins      int     `json:"total_coins"`
	Pages           int     `json:"pages"`
	APICalls        int     `json:"api_calls"`
	DupDropped      int     `json:"duplicates_dropped"`
	DurationSec     float64 `json:"duration_seconds"`
	LatencyMeanSec  float64 `json:"page_latency_mean_seconds"`
	LatencySigmaSec float64 `json:"page_latency_sigma_seconds"`
	Started         *Time   `json:"started_at"`
	Finished        *Time   `json:"finished_at"`
}

// WriteCollectionMeta persists meta at path, atomically.
func WriteCollectionMeta(path string, meta CollectionMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Annotate(err, "failed to marshal collection meta")
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return errors.Annotate(err, "failed to write collection meta '%s'", path)
	}
	return nil
}

// ReadCollectionMeta loads a previously written metadata file.
func ReadCollectionMeta(path string) (CollectionMeta, error) {
	var meta CollectionMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, errors.Annotate(err, "failed to read collection meta '%s'", path)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, errors.Annotate(err, "failed to parse collection meta '%s'", path)
	}
	return meta, nil
}

// WriteFileAtomic writes data to a temporary file in the target directory and
// renames it into place, so readers never observe a partial write. Parent
// directories are created as needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Annotate(err, "failed to create directory '%s'", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Annotate(err, "failed to create temporary file in '%s'", dir)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Annotate(err, "failed to write '%s'", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Annotate(err, "failed to close '%s'", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Annotate(err, "failed to rename '%s' to '%s'", tmpName, path)
	}
	return nil
}

// Snapshot is the append-only JSONL capture of raw records, one JSON object
// per line, exactly as received from the upstream. A resumed run reopens the
// same file and appends only the pages it actually fetched, so across
// attempts the file accumulates every record ever received for the date.
type Snapshot struct {
	f *os.File
	w *bufio.Writer
}

// OpenSnapshot opens the snapshot file at path for appending, creating it and
// its directory if needed.
func OpenSnapshot(path string) (*Snapshot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Annotate(err, "failed to create snapshot directory for '%s'", path)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open snapshot '%s'", path)
	}
	return &Snapshot{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one record as a single JSON line. The record is marshaled as
// is; no normalization is applied.
func (s *Snapshot) Append(record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Annotate(err, "failed to marshal snapshot record")
	}
	if _, err := s.w.Write(data); err != nil {
		return errors.Annotate(err, "failed to append snapshot record")
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return errors.Annotate(err, "failed to append snapshot record")
	}
	return nil
}

// Flush pushes buffered lines to the OS. Called after each completed page, so
// an interrupted run loses at most the page in flight.
func (s *Snapshot) Flush() error {
	if err := s.w.Flush(); err != nil {
		return errors.Annotate(err, "failed to flush snapshot")
	}
	return nil
}

// Close flushes and closes the snapshot file.
func (s *Snapshot) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return errors.Annotate(err, "failed to flush snapshot")
	}
	if err := s.f.Close(); err != nil {
		return errors.Annotate(err, "failed to close snapshot")
	}
	return nil
}

// ReadSnapshot loads all raw records from a JSONL snapshot in line order.
// Blank lines are skipped; a malformed line is an error, since the snapshot
// is machine-written.
func ReadSnapshot(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open snapshot '%s'", path)
	}
	defer f.Close()

	var records []json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		if !json.Valid(b) {
			return nil, errors.Reason("malformed snapshot line %d in '%s'", line, path)
		}
		rec := make(json.RawMessage, len(b))
		copy(rec, b)
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Annotate(err, "failed to read snapshot '%s'", path)
	}
	return records, nil
}
