// Driver: batches clusters, windows the auxiliary probes, calls the backend and
// yields annotated result rows one at a time

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/shenwei356/natsort"
	"github.com/sirupsen/logrus"
)

// PipelineOptions configures a Pipeline
type PipelineOptions struct {
	Source     ClusterSource
	BatchSize  int
	Covariates *Covariates
	Backend    Backend
	Method     Method
	Model      string
	Counts     bool
	Workers    int
	OutlierSDs float64

	// Auxiliary matrix. Aux is nil when the matrix has no location table
	XPath   string
	Aux     *AuxIndex
	MaxDist int

	Log *logrus.Logger
}

// Stats counts what happened during a run
type Stats struct {
	Batches    int
	Dispatched int
	Skipped    int
	Failed     int
	Rows       int
	PerChrom   map[string]int
}

// Pipeline is the lazy sequence of annotated result rows
type Pipeline struct {
	opts    PipelineOptions
	batches *batcher
	pending []ResultRow
	stats   Stats
	log     *logrus.Logger
}

// NewPipeline creates the driver; nothing is read until Next is called
func NewPipeline(opts PipelineOptions) *Pipeline {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Aux == nil {
		opts.MaxDist = noDistanceLimit
	}
	return &Pipeline{
		opts:    opts,
		batches: newBatcher(opts.Source, opts.BatchSize),
		stats:   Stats{PerChrom: make(map[string]int)},
		log:     log,
	}
}

// Stats returns the counters of the run so far
func (p *Pipeline) Stats() Stats { return p.stats }

// Next returns the next result row, or io.EOF when all clusters have been
// tested. Cancelling ctx stops the pipeline before the next batch
func (p *Pipeline) Next(ctx context.Context) (*ResultRow, error) {
	for len(p.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := p.batches.Next()
		if err != nil {
			return nil, err
		}
		p.stats.Batches++

		rows, err := p.run(ctx, b)
		var berr *BackendError
		if errors.As(err, &berr) {
			p.stats.Failed++
			p.log.WithFields(logrus.Fields{
				"batch":    b.Index,
				"clusters": len(b.Clusters),
				"first":    b.Clusters[0].String(),
			}).Error(berr.Err)
			continue
		}
		if err != nil {
			return nil, err
		}
		p.pending = rows
	}

	row := p.pending[0]
	p.pending = p.pending[1:]
	p.stats.Rows++
	p.stats.PerChrom[row.Chrom]++
	return &row, nil
}

// run tests one batch
func (p *Pipeline) run(ctx context.Context, b *Batch) ([]ResultRow, error) {
	req := &Request{
		Batch:     b.Index,
		Method:    p.opts.Method.Kind(),
		Params:    p.opts.Method.Params(),
		Model:     p.opts.Model,
		Counts:    p.opts.Counts,
		Workers:   p.opts.Workers,
		NClusters: len(b.Clusters),
	}

	if p.opts.XPath != "" {
		req.Aux = &AuxRef{Matrix: p.opts.XPath}
		if p.opts.Aux != nil {
			probes := p.opts.Aux.Window(b, p.opts.MaxDist)
			if len(probes) == 0 {
				p.stats.Skipped++
				p.log.WithField("batch", b.Index).Debug("no auxiliary probes in window, skipping")
				return nil, nil
			}
			req.Aux.Probes = probes
		}
	}

	dataset, err := buildDataset(p.opts.Covariates, b, p.opts.OutlierSDs).CSV()
	if err != nil {
		return nil, fmt.Errorf("encoding dataset of batch %d: %w", b.Index, err)
	}
	req.Dataset = dataset

	p.log.WithFields(logrus.Fields{
		"batch":    b.Index,
		"clusters": len(b.Clusters),
		"first":    b.Clusters[0].String(),
	}).Debug("dispatching")
	table, err := p.opts.Backend.Fit(ctx, req)
	if err != nil {
		return nil, err
	}
	p.stats.Dispatched++

	rows := table.Rows
	annotateRows(rows, b, p.opts.Method)
	if p.opts.Aux == nil {
		return rows, nil
	}
	kept := rows[:0]
	for i := range rows {
		if _, ok := p.opts.Aux.Probe(rows[i].X); !ok {
			p.log.WithFields(logrus.Fields{
				"batch": b.Index,
				"X":     rows[i].X,
			}).Warn("auxiliary probe returned by the backend has no location, dropping row")
			continue
		}
		if annotateX(&rows[i], p.opts.Aux, p.opts.MaxDist) {
			kept = append(kept, rows[i])
		}
	}
	return kept, nil
}

// chromosomes returns the chromosomes with results in natural order
func (s Stats) chromosomes() []string {
	chroms := make([]string, 0, len(s.PerChrom))
	for c := range s.PerChrom {
		chroms = append(chroms, c)
	}
	sort.Slice(chroms, func(i, j int) bool { return natsort.Compare(chroms[i], chroms[j], false) })
	return chroms
}

// logSummary reports the run counters; failed batches are reported as a warning
func logSummary(log *logrus.Logger, s Stats) {
	for _, c := range s.chromosomes() {
		log.WithField("chrom", c).Infof("%d results", s.PerChrom[c])
	}
	entry := log.WithFields(logrus.Fields{
		"batches":    s.Batches,
		"dispatched": s.Dispatched,
		"skipped":    s.Skipped,
		"failed":     s.Failed,
		"results":    s.Rows,
	})
	if s.Failed > 0 {
		entry.Warnf("%d batches failed in the backend", s.Failed)
		return
	}
	entry.Info("done")
}

// drain writes every row of the pipeline
func drain(ctx context.Context, p *Pipeline, w *rowWriter) error {
	for {
		row, err := p.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("error writing result: %w", err)
		}
	}
}
