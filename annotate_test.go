package main

import (
	"reflect"
	"testing"
)

func TestDirectionalDistance(t *testing.T) {
	plus := AuxProbe{ID: "g", Chrom: "chr1", Start: 1000, End: 2000, Strand: "+"}
	minus := plus
	minus.Strand = "-"
	unknown := plus
	unknown.Strand = "."

	tests := []struct {
		name       string
		chrom      string
		start, end int
		feature    AuxProbe
		want       int
		wantOK     bool
	}{
		{name: "dmr 1000-1100 before plus feature", chrom: "chr1", start: 1000, end: 1100, feature: AuxProbe{Chrom: "chr1", Start: 2000, End: 2100, Strand: "+"}, want: -900, wantOK: true},
		{name: "dmr 1000-1100 before minus feature", chrom: "chr1", start: 1000, end: 1100, feature: AuxProbe{Chrom: "chr1", Start: 2000, End: 2100, Strand: "-"}, want: 900, wantOK: true},
		{name: "upstream on plus", chrom: "chr1", start: 0, end: 100, feature: plus, want: -900, wantOK: true},
		{name: "downstream on plus", chrom: "chr1", start: 2900, end: 3000, feature: plus, want: 900, wantOK: true},
		{name: "left on minus", chrom: "chr1", start: 0, end: 100, feature: minus, want: 900, wantOK: true},
		{name: "right on minus", chrom: "chr1", start: 2900, end: 3000, feature: minus, want: -900, wantOK: true},
		{name: "overlap", chrom: "chr1", start: 1500, end: 2500, feature: plus, want: 0, wantOK: true},
		{name: "touching start", chrom: "chr1", start: 500, end: 1000, feature: plus, want: 0, wantOK: true},
		{name: "unknown strand counts as plus", chrom: "chr1", start: 0, end: 100, feature: unknown, want: -900, wantOK: true},
		{name: "other chromosome", chrom: "chr2", start: 0, end: 100, feature: plus, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := directionalDistance(tt.chrom, tt.start, tt.end, tt.feature)
			if ok != tt.wantOK {
				t.Fatalf("directionalDistance() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("directionalDistance() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAnnotateRows(t *testing.T) {
	b := &Batch{Clusters: []Cluster{
		{feat("chr1", 100), feat("chr1", 150)},
		{feat("chr1", 500)},
	}}
	rows := []ResultRow{
		{ClusterID: 2, X: "a"},
		{ClusterID: 1, X: "b"},
		{ClusterID: 2, X: "c"},
	}
	annotateRows(rows, b, GEE{CorStr: "ex", ClusterVar: "CpG"})

	want := []ResultRow{
		{ClusterID: 1, X: "b", Chrom: "chr1", Start: 100, End: 150, NProbes: 2, Method: "gee:ex,CpG"},
		{ClusterID: 2, X: "a", Chrom: "chr1", Start: 500, End: 500, NProbes: 1, Method: "lm"},
		{ClusterID: 2, X: "c", Chrom: "chr1", Start: 500, End: 500, NProbes: 1, Method: "lm"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("annotateRows() = %+v, want %+v", rows, want)
	}
}

func TestAnnotateX(t *testing.T) {
	aux, err := newAuxIndex([]AuxProbe{
		{ID: "ENSG.1", Chrom: "chr1", Start: 1000, End: 2000, Strand: "-", Name: "GENE1"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		row      ResultRow
		maxDist  int
		wantKeep bool
	}{
		{name: "within distance", row: ResultRow{Chrom: "chr1", Start: 0, End: 100, X: "ENSG-1"}, maxDist: 1000, wantKeep: true},
		{name: "no limit", row: ResultRow{Chrom: "chr1", Start: 0, End: 100, X: "ENSG-1"}, maxDist: noDistanceLimit, wantKeep: true},
		{name: "too far", row: ResultRow{Chrom: "chr1", Start: 0, End: 100, X: "ENSG-1"}, maxDist: 500, wantKeep: false},
		{name: "other chromosome", row: ResultRow{Chrom: "chr2", Start: 0, End: 100, X: "ENSG-1"}, maxDist: noDistanceLimit, wantKeep: false},
		{name: "unknown probe", row: ResultRow{Chrom: "chr1", Start: 0, End: 100, X: "ENSG-2"}, maxDist: noDistanceLimit, wantKeep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := tt.row
			if keep := annotateX(&row, aux, tt.maxDist); keep != tt.wantKeep {
				t.Fatalf("annotateX() = %v, want %v", keep, tt.wantKeep)
			}
			if !tt.wantKeep {
				return
			}
			if row.Distance != 900 || !row.HasDistance {
				t.Errorf("distance = %d (%v), want 900", row.Distance, row.HasDistance)
			}
			if row.XName != "GENE1" || row.XStart != 1000 || row.XEnd != 2000 || row.XStrand != "-" {
				t.Errorf("auxiliary annotation = %+v", row)
			}
		})
	}
}
