// Probe features and clusters of features

package main

import (
	"errors"
	"fmt"
	"io"
)

// Feature is a single probe: a position on a chromosome and one measurement
// per sample. Weights, when present, run parallel to Values
type Feature struct {
	ID      string
	Group   string
	Start   int
	End     int
	Values  []float64
	Weights []float64
}

// Cluster is a run of features on one chromosome, ordered by start
type Cluster []*Feature

// Chrom returns the chromosome shared by all features of the cluster
func (c Cluster) Chrom() string { return c[0].Group }

// Start returns the start of the first feature
func (c Cluster) Start() int { return c[0].Start }

// End returns the end of the last feature
func (c Cluster) End() int { return c[len(c)-1].End }

// HasWeights reports whether the features of the cluster carry weights
func (c Cluster) HasWeights() bool { return c[0].Weights != nil }

func (c Cluster) String() string {
	return fmt.Sprintf("%s:%d-%d (%d probes)", c.Chrom(), c.Start(), c.End(), len(c))
}

// FeatureIterator yields features in (chromosome, start) order.
// Next returns io.EOF once the stream is exhausted
type FeatureIterator interface {
	Next() (*Feature, error)
}

// ClusterSource yields non-empty clusters in genome order.
// Next returns io.EOF once the source is exhausted
type ClusterSource interface {
	Next() (Cluster, error)
}

// sliceFeatures iterates over an in-memory slice of features
type sliceFeatures struct {
	feats []*Feature
	i     int
}

func (s *sliceFeatures) Next() (*Feature, error) {
	if s.i >= len(s.feats) {
		return nil, io.EOF
	}
	f := s.feats[s.i]
	s.i++
	return f, nil
}

// minSizeSource drops clusters with fewer than n features
type minSizeSource struct {
	src ClusterSource
	n   int
}

func (m *minSizeSource) Next() (Cluster, error) {
	for {
		c, err := m.src.Next()
		if err != nil {
			return nil, err
		}
		if len(c) >= m.n {
			return c, nil
		}
	}
}

// withMinSize wraps src so that clusters smaller than n are skipped
func withMinSize(src ClusterSource, n int) ClusterSource {
	if n <= 1 {
		return src
	}
	return &minSizeSource{src: src, n: n}
}

// closeSource closes a cluster source if it holds resources
func closeSource(src ClusterSource) error {
	if m, ok := src.(*minSizeSource); ok {
		return closeSource(m.src)
	}
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// errUnsorted is returned when the feature stream is not sorted by chromosome and start
var errUnsorted = errors.New("features are not sorted by chromosome and start")
