// Annotation of backend results with cluster coordinates and directional distance

package main

import (
	"sort"
)

// directionalDistance returns the distance between a DMR and a feature.
// Negative is upstream of the feature's transcription start, positive
// downstream and 0 overlapping. ok is false for different chromosomes.
// Strands other than '+' and '-' count as '+'
func directionalDistance(chrom string, start, end int, f AuxProbe) (distance int, ok bool) {
	if chrom != f.Chrom {
		return 0, false
	}
	strand := f.Strand
	if strand != "+" && strand != "-" {
		strand = "+"
	}
	switch {
	case end < f.Start:
		// left of the feature: upstream on the plus strand
		distance = f.Start - end
		if strand == "+" {
			distance = -distance
		}
	case start > f.End:
		// right of the feature: upstream on the minus strand
		distance = start - f.End
		if strand == "-" {
			distance = -distance
		}
	}
	return distance, true
}

// annotateRows fills in the cluster coordinates and the method tag of each
// row and orders the rows by cluster id, keeping the backend order within a
// cluster. Cluster ids start at 1
func annotateRows(rows []ResultRow, b *Batch, m Method) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ClusterID < rows[j].ClusterID })
	for i := range rows {
		c := b.Clusters[rows[i].ClusterID-1]
		rows[i].Chrom = c.Chrom()
		rows[i].Start = c.Start()
		rows[i].End = c.End()
		rows[i].NProbes = len(c)
		rows[i].Method = m.Tag(len(c))
	}
}

// annotateX attaches the auxiliary probe of an eQTL row and its distance to
// the cluster. It reports whether the row is kept: rows on another chromosome,
// beyond maxDist, or naming an unknown probe are dropped
func annotateX(row *ResultRow, aux *AuxIndex, maxDist int) bool {
	p, ok := aux.Probe(row.X)
	if !ok {
		return false
	}
	row.XStart, row.XEnd, row.XStrand, row.XName = p.Start, p.End, p.Strand, p.Name
	row.Distance, row.HasDistance = directionalDistance(row.Chrom, row.Start, row.End, p)
	if !row.HasDistance {
		return false
	}
	if maxDist != noDistanceLimit && abs(row.Distance) > maxDist {
		return false
	}
	return true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
