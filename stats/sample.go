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

// Package stats holds the summary statistics reported by the collector and
// the query tools: scalar samples (page latencies, market caps) and
// date-keyed series read back from the artifacts.
package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Sample stores an unordered set of numerical data (float64) and computes
// various statistics over it.
type Sample struct {
	data []float64
}

// NewSample creates a new empty sample.
func NewSample() *Sample {
	return &Sample{}
}

// Data returns the sample data.
func (s *Sample) Data() []float64 { return s.data }

// Init sets the data in the sample to the provided slice. Note, that it
// reuses the same slice without copying. Use Copy() if you need to decouple
// your input from the Sample. It returns self for inlined declarations.
func (s *Sample) Init(data []float64) *Sample {
	s.data = data
	return s
}

// Copy the data into Sample. The input can then be safely modified without
// affecting the Sample. It returns self for inline declarations.
func (s *Sample) Copy(data []float64) *Sample {
	cp := make([]float64, len(data))
	copy(cp, data)
	return s.Init(cp)
}

// Mean of the Sample; 0.0 for an empty sample.
func (s *Sample) Mean() float64 {
	if len(s.data) == 0 {
		return 0.0
	}
	return stat.Mean(s.data, nil)
}

// Variance of the Sample, with Bessel's correction; 0.0 for fewer than two
// points.
func (s *Sample) Variance() float64 {
	if len(s.data) < 2 {
		return 0.0
	}
	return stat.Variance(s.data, nil)
}

// Sigma computes the standard deviation of the Sample. It is 0.0 for fewer
// than two points, never NaN, so the result is always safe to serialize.
func (s *Sample) Sigma() float64 {
	if len(s.data) < 2 {
		return 0.0
	}
	return stat.StdDev(s.data, nil)
}

// Min of the Sample; 0.0 for an empty sample.
func (s *Sample) Min() float64 {
	if len(s.data) == 0 {
		return 0.0
	}
	return floats.Min(s.data)
}

// Max of the Sample; 0.0 for an empty sample.
func (s *Sample) Max() float64 {
	if len(s.data) == 0 {
		return 0.0
	}
	return floats.Max(s.data)
}
