package main

import (
	"fmt"
	"io"
	"reflect"
	"testing"
)

// feat builds a feature named chrom:start
func feat(chrom string, start int, values ...float64) *Feature {
	return &Feature{ID: fmt.Sprintf("%s:%d", chrom, start), Group: chrom, Start: start, End: start, Values: values}
}

// sliceClusters is a ClusterSource over in-memory clusters
type sliceClusters struct {
	clusters []Cluster
	i        int
}

func (s *sliceClusters) Next() (Cluster, error) {
	if s.i >= len(s.clusters) {
		return nil, io.EOF
	}
	c := s.clusters[s.i]
	s.i++
	return c, nil
}

func TestBatcher(t *testing.T) {
	var clusters []Cluster
	for i := 0; i < 5; i++ {
		clusters = append(clusters, Cluster{feat("chr1", 100*(i+1), 1)})
	}

	tests := []struct {
		name      string
		size      int
		wantSizes []int
	}{
		{name: "short last batch", size: 2, wantSizes: []int{2, 2, 1}},
		{name: "exact", size: 5, wantSizes: []int{5}},
		{name: "larger than source", size: 10, wantSizes: []int{5}},
		{name: "size one", size: 1, wantSizes: []int{1, 1, 1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBatcher(&sliceClusters{clusters: clusters}, tt.size)
			var sizes []int
			var order []Cluster
			for {
				batch, err := b.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatal(err)
				}
				if batch.Index != len(sizes) {
					t.Errorf("batch index = %d, want %d", batch.Index, len(sizes))
				}
				sizes = append(sizes, len(batch.Clusters))
				order = append(order, batch.Clusters...)
			}
			if !reflect.DeepEqual(sizes, tt.wantSizes) {
				t.Errorf("batch sizes = %v, want %v", sizes, tt.wantSizes)
			}
			if !reflect.DeepEqual(order, clusters) {
				t.Errorf("clusters out of stream order")
			}
			if _, err := b.Next(); err != io.EOF {
				t.Errorf("expected io.EOF after the last batch, got %v", err)
			}
		})
	}

	if _, err := newBatcher(&sliceClusters{}, 3).Next(); err != io.EOF {
		t.Errorf("empty source: expected io.EOF, got %v", err)
	}
}

func TestWithMinSize(t *testing.T) {
	src := &sliceClusters{clusters: []Cluster{
		{feat("chr1", 1)},
		{feat("chr1", 10), feat("chr1", 20)},
		{feat("chr1", 30)},
		{feat("chr1", 40), feat("chr1", 50), feat("chr1", 60)},
	}}
	filtered := withMinSize(src, 2)
	var sizes []int
	for {
		c, err := filtered.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, len(c))
	}
	if !reflect.DeepEqual(sizes, []int{2, 3}) {
		t.Errorf("cluster sizes = %v, want [2 3]", sizes)
	}
}
