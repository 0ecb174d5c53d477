// Default command: clusters are found de novo by the external adjacency
// clusterer and tested against the covariate

package main

import (
	"context"
	"fmt"

	"github.com/shenwei356/xopen"
	"golang.org/x/sync/errgroup"
)

// startBackend opens the statistics session; tests replace it with an in-process fake
var startBackend = func(ctx context.Context, cfg *Config) (Backend, error) {
	return StartExecBackend(ctx, cfg.Backend, cfg.CompressPayload)
}

// newClusterer returns the adjacency clusterer used by the default command
var newClusterer = func(cfg *Config) Clusterer {
	return ExecClusterer{Command: cfg.Clusterer}
}

// runDenovo tests the clusters found by the clusterer
func runDenovo(ctx context.Context, cfg *Config) error {
	return runModel(ctx, cfg, func(ctx context.Context, feats FeatureIterator, _ *sharedTables) (ClusterSource, error) {
		return newClusterer(cfg).Cluster(ctx, cfg.Methylation, feats, cfg.ClusterParams())
	})
}

// sharedTables are the read-only inputs loaded once before streaming
type sharedTables struct {
	cov     *Covariates
	aux     *AuxIndex
	regions []Region
}

// loadShared reads the covariates, the auxiliary probe locations and the
// regions concurrently
func loadShared(ctx context.Context, cfg *Config) (*sharedTables, error) {
	var (
		cov     *Covariates
		locs    []AuxProbe
		inX     map[string]bool
		regions []Region
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cov, err = readCovariates(cfg.Covariates)
		return err
	})
	if cfg.XLocs != "" {
		g.Go(func() (err error) {
			locs, err = readAuxLocations(cfg.XLocs)
			return err
		})
		g.Go(func() (err error) {
			inX, err = readMatrixIDs(cfg.X)
			return err
		})
	}
	if cfg.Regions != "" {
		g.Go(func() (err error) {
			regions, err = readRegions(cfg.Regions)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t := &sharedTables{cov: cov, regions: regions}
	if cfg.XLocs != "" {
		aux, err := newAuxIndex(locs, inX)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.XLocs, err)
		}
		if aux.Len() == 0 {
			return nil, fmt.Errorf("%w: no probe of %s is a row of %s", ErrConfig, cfg.XLocs, cfg.X)
		}
		t.aux = aux
	}
	return t, nil
}

// sourceFunc builds the cluster source of a command from the feature stream
type sourceFunc func(ctx context.Context, feats FeatureIterator, shared *sharedTables) (ClusterSource, error)

// runModel is the body shared by the modelling commands. Every configuration
// error is reported before the output header is written; an ambiguous region
// is only found while streaming
func runModel(ctx context.Context, cfg *Config, newSource sourceFunc) (err error) {
	if err := cfg.Validate(); err != nil {
		return err
	}
	method, _ := cfg.Method()
	covariate, _ := cfg.Covariate()
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shared, err := loadShared(ctx, cfg)
	if err != nil {
		return err
	}
	if !shared.cov.Has(covariate) {
		return fmt.Errorf("%w: covariate %q is not a column of %s", ErrConfig, covariate, cfg.Covariates)
	}

	feats, err := openFeatures(cfg.Methylation, cfg.Weights)
	if err != nil {
		return err
	}
	defer feats.Close()

	samples, err := sharedSamples(shared.cov, feats.Samples())
	if err != nil {
		return fmt.Errorf("%s and %s: %w", cfg.Covariates, cfg.Methylation, err)
	}
	if err := feats.Select(samples); err != nil {
		return err
	}
	cov := shared.cov.Subset(samples)
	log.WithField("samples", len(samples)).Debug("samples shared by covariates and measurements")

	src, err := newSource(ctx, feats, shared)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			cancel()
		}
		if cerr := closeSource(src); cerr != nil && err == nil {
			err = fmt.Errorf("cluster source: %w", cerr)
		}
	}()

	backend, err := startBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			cancel()
		}
		if cerr := backend.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("backend: %w", cerr)
		}
	}()

	outfh, err := xopen.Wopen(cfg.Out)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer outfh.Close()

	w := newRowWriter(outfh, !cfg.BetaReg, cfg.X != "", cfg.XLocs != "")

	p := NewPipeline(PipelineOptions{
		Source:     src,
		BatchSize:  cfg.BatchSize(),
		Covariates: cov,
		Backend:    backend,
		Method:     method,
		Model:      cfg.Model,
		Counts:     cfg.Counts,
		Workers:    cfg.Workers(),
		OutlierSDs: cfg.OutlierSDs,
		XPath:      cfg.X,
		Aux:        shared.aux,
		MaxDist:    cfg.MaxCisDist(),
		Log:        log,
	})
	err = drain(ctx, p, w)
	logSummary(log, p.Stats())
	if err != nil {
		return err
	}
	// a run without results still gets a header
	return w.WriteHeader()
}
