// Grouping of features into predefined regions

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/biogo/store/interval"
)

// Region is a named genomic interval; start and end are inclusive
type Region struct {
	Chrom string
	Start int
	End   int
	Name  string
}

// ErrAmbiguousRegion is returned when a feature overlaps more than one region
var ErrAmbiguousRegion = fmt.Errorf("%w: feature overlaps multiple regions", ErrConfig)

type regionInterval struct {
	start, end int
	uid        uintptr
}

func (r regionInterval) Overlap(b interval.IntRange) bool {
	return r.start <= b.End && r.end >= b.Start
}

func (r regionInterval) ID() uintptr { return r.uid }

func (r regionInterval) Range() interval.IntRange {
	return interval.IntRange{Start: r.start, End: r.end}
}

// closedQuery matches ranges sharing at least one position with [start, end]
type closedQuery struct {
	start, end int
}

func (q closedQuery) Overlap(b interval.IntRange) bool {
	return b.Start <= q.end && b.End >= q.start
}

// RegionGrouper is a ClusterSource that groups consecutive features falling
// in the same region. Features outside every region are dropped
type RegionGrouper struct {
	feats   FeatureIterator
	regions []Region
	trees   map[string]*interval.IntTree

	pending       *Feature
	pendingRegion int
	done          bool
}

// NewRegionGrouper indexes the regions; they need not be sorted
func NewRegionGrouper(feats FeatureIterator, regions []Region) (*RegionGrouper, error) {
	g := &RegionGrouper{
		feats:   feats,
		regions: regions,
		trees:   make(map[string]*interval.IntTree),
	}
	for i, r := range regions {
		if r.End < r.Start {
			return nil, fmt.Errorf("%w: region %s ends before it starts", ErrConfig, r.Name)
		}
		tree, ok := g.trees[r.Chrom]
		if !ok {
			tree = &interval.IntTree{}
			g.trees[r.Chrom] = tree
		}
		if err := tree.Insert(regionInterval{start: r.Start, end: r.End, uid: uintptr(i)}, true); err != nil {
			return nil, fmt.Errorf("indexing region %s: %w", r.Name, err)
		}
	}
	for _, tree := range g.trees {
		tree.AdjustRanges()
	}
	return g, nil
}

// regionOf returns the index of the region overlapping f, or -1
func (g *RegionGrouper) regionOf(f *Feature) (int, error) {
	tree, ok := g.trees[f.Group]
	if !ok {
		return -1, nil
	}
	hits := tree.Get(closedQuery{start: f.Start, end: f.End})
	switch len(hits) {
	case 0:
		return -1, nil
	case 1:
		return int(hits[0].ID()), nil
	}
	a, b := g.regions[hits[0].ID()], g.regions[hits[1].ID()]
	return -1, fmt.Errorf("%w: %s:%d-%d overlaps %s and %s", ErrAmbiguousRegion, f.Group, f.Start, f.End, a.Name, b.Name)
}

// nextAssigned returns the next feature and its region, -1 when it falls
// outside every region
func (g *RegionGrouper) nextAssigned() (*Feature, int, error) {
	f, err := g.feats.Next()
	if err != nil {
		return nil, -1, err
	}
	region, err := g.regionOf(f)
	if err != nil {
		return nil, -1, err
	}
	return f, region, nil
}

// Next returns the features of the next run of one region
func (g *RegionGrouper) Next() (Cluster, error) {
	if g.done {
		return nil, io.EOF
	}
	for g.pending == nil {
		f, region, err := g.nextAssigned()
		if err != nil {
			if errors.Is(err, io.EOF) {
				g.done = true
			}
			return nil, err
		}
		if region >= 0 {
			g.pending, g.pendingRegion = f, region
		}
	}

	cluster := Cluster{g.pending}
	region := g.pendingRegion
	g.pending = nil
	for {
		f, next, err := g.nextAssigned()
		if errors.Is(err, io.EOF) {
			g.done = true
			return cluster, nil
		}
		if err != nil {
			return nil, err
		}
		// a feature of another region, or of none, ends the run
		if next != region {
			if next >= 0 {
				g.pending, g.pendingRegion = f, next
			}
			return cluster, nil
		}
		cluster = append(cluster, f)
	}
}
