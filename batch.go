package main

import "io"

// Batch is a run of consecutive clusters sent to the backend in one call
type Batch struct {
	Index    int
	Clusters []Cluster
}

// batcher groups a cluster source into batches of a fixed size, in stream
// order. Only the batch being returned is held in memory
type batcher struct {
	src  ClusterSource
	size int
	n    int
	done bool
}

func newBatcher(src ClusterSource, size int) *batcher {
	if size < 1 {
		size = 1
	}
	return &batcher{src: src, size: size}
}

// Next returns the next batch, or io.EOF when the source is exhausted.
// The last batch may hold fewer than size clusters
func (b *batcher) Next() (*Batch, error) {
	if b.done {
		return nil, io.EOF
	}
	batch := &Batch{Index: b.n, Clusters: make([]Cluster, 0, b.size)}
	for len(batch.Clusters) < b.size {
		c, err := b.src.Next()
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		batch.Clusters = append(batch.Clusters, c)
	}
	if len(batch.Clusters) == 0 {
		return nil, io.EOF
	}
	b.n++
	return batch, nil
}
