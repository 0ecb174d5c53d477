// Selection of the auxiliary probes tested against a batch of clusters

package main

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/biogo/store/interval"
	"github.com/samber/lo"
)

// fixName rewrites the characters that are not allowed in backend formula
// names ('-', ':' and ' ') to '.'
func fixName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ':', ' ':
			return '.'
		}
		return r
	}, name)
}

// AuxProbe is the location of one row of the auxiliary matrix
type AuxProbe struct {
	ID     string
	Chrom  string
	Start  int
	End    int
	Strand string
	Name   string
}

// auxInterval is a probe stored in the per-chromosome interval tree
type auxInterval struct {
	start, end int
	uid        uintptr
}

func (i auxInterval) Overlap(b interval.IntRange) bool {
	return i.end > b.Start && i.start < b.End
}

func (i auxInterval) ID() uintptr { return i.uid }

func (i auxInterval) Range() interval.IntRange {
	return interval.IntRange{Start: i.start, End: i.end}
}

// cisQuery matches probes with start < end+D and end > start-D
type cisQuery struct {
	start, end int
}

func (q cisQuery) Overlap(b interval.IntRange) bool {
	return b.Start < q.end && b.End > q.start
}

// AuxIndex holds the auxiliary probe locations, indexed by chromosome.
// It is built once and only read afterwards
type AuxIndex struct {
	probes []AuxProbe
	byID   map[string]int
	trees  map[string]*interval.IntTree
}

// newAuxIndex indexes the probe locations. When inMatrix is not nil, probes
// that are not rows of the auxiliary matrix are left out
func newAuxIndex(probes []AuxProbe, inMatrix map[string]bool) (*AuxIndex, error) {
	x := &AuxIndex{
		byID:  make(map[string]int, len(probes)),
		trees: make(map[string]*interval.IntTree),
	}
	for _, p := range probes {
		if inMatrix != nil && !inMatrix[p.ID] {
			continue
		}
		if _, dup := x.byID[p.ID]; dup {
			continue
		}
		if p.End < p.Start {
			return nil, fmt.Errorf("probe %s ends before it starts", p.ID)
		}
		i := len(x.probes)
		x.probes = append(x.probes, p)
		x.byID[p.ID] = i

		tree, ok := x.trees[p.Chrom]
		if !ok {
			tree = &interval.IntTree{}
			x.trees[p.Chrom] = tree
		}
		if err := tree.Insert(auxInterval{start: p.Start, end: p.End, uid: uintptr(i)}, true); err != nil {
			return nil, fmt.Errorf("indexing probe %s: %w", p.ID, err)
		}
	}
	for _, tree := range x.trees {
		tree.AdjustRanges()
	}
	return x, nil
}

// Len returns the number of indexed probes
func (x *AuxIndex) Len() int { return len(x.probes) }

// Probe returns the location of a probe by its normalized id
func (x *AuxIndex) Probe(id string) (AuxProbe, bool) {
	i, ok := x.byID[fixName(id)]
	if !ok {
		return AuxProbe{}, false
	}
	return x.probes[i], true
}

// near returns the probes within maxDist of [start, end] on chrom, in table order
func (x *AuxIndex) near(chrom string, start, end, maxDist int) []string {
	tree, ok := x.trees[chrom]
	if !ok {
		return nil
	}
	hits := tree.Get(cisQuery{start: start - maxDist, end: end + maxDist})
	idx := make([]int, len(hits))
	for i, h := range hits {
		idx[i] = int(h.ID())
	}
	sort.Ints(idx)
	ids := make([]string, len(idx))
	for i, j := range idx {
		ids[i] = x.probes[j].ID
	}
	return ids
}

// Near returns the probes within maxDist of [start, end] on chrom. With
// noDistanceLimit every probe of the chromosome is returned
func (x *AuxIndex) Near(chrom string, start, end, maxDist int) []AuxProbe {
	if maxDist == noDistanceLimit {
		maxDist = math.MaxInt32
	}
	return lo.Map(x.near(chrom, start, end, maxDist), func(id string, _ int) AuxProbe {
		return x.probes[x.byID[id]]
	})
}

// Window returns the probes to test against the batch: the union over its
// clusters of the probes within maxDist of the cluster span, deduplicated in
// first-seen order. With noDistanceLimit every probe is returned
func (x *AuxIndex) Window(b *Batch, maxDist int) []string {
	if maxDist == noDistanceLimit {
		return lo.Map(x.probes, func(p AuxProbe, _ int) string { return p.ID })
	}
	var ids []string
	for _, c := range b.Clusters {
		ids = append(ids, x.near(c.Chrom(), c.Start(), c.End(), maxDist)...)
	}
	return lo.Uniq(ids)
}
