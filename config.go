// Run configuration shared by the subcommands

package main

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
)

// ErrConfig marks configuration errors. They are reported before any processing
var ErrConfig = errors.New("configuration error")

// noDistanceLimit disables the cis-window distance limit
const noDistanceLimit = -1

// Default batch factors, multiplied by the number of CPUs:
// no auxiliary matrix, auxiliary matrix with locations, auxiliary matrix without locations
const (
	DEFAULT_BATCH_FACTORS = "50,4,8"
	DEFAULT_OUTLIER_SDS   = 30
	DEFAULT_BACKEND       = "Rscript clustermodel-backend.R"
	DEFAULT_CLUSTERER     = "aclust"
)

// Config holds every setting of a run
type Config struct {
	Model       string
	Covariates  string
	Methylation string
	Weights     string
	Out         string

	// Method selection (mutually exclusive, or a mixed model in lme4 syntax)
	SKAT    bool
	GEEArgs string
	Combine string
	Bumping bool
	LM      bool
	BetaReg bool
	Counts  bool

	// De-novo clustering, passed through to the clusterer
	Clusterer      string
	MaxDist        int
	RhoMin         float64
	Linkage        string
	MergeLinkage   float64
	MaxMergeDist   int
	MinClusterSize int

	// Region mode
	Regions string

	OutlierSDs float64

	// Auxiliary (expression) matrix
	X        string
	XLocs    string
	XDist    int
	XDistSet bool

	Backend         string
	CPUs            int
	CompressPayload int
	BatchFactors    string

	Verbose bool
	Quiet   bool
}

// addModelFlags registers the flags shared by all modelling commands
func addModelFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	flags.BoolVar(&cfg.SKAT, "skat", false, "Test the cluster with SKAT")
	flags.StringVar(&cfg.GEEArgs, "gee-args", "", "Comma-delimited GEE correlation structure and cluster variable (e.g. 'ex,CpG')")
	flags.StringVar(&cfg.Combine, "combine", "", "Combine per-probe p-values (liptak, z-score)")
	flags.BoolVar(&cfg.Bumping, "bumping", false, "Use the per-cluster bump-hunting test")
	flags.BoolVar(&cfg.LM, "lm", false, "Fit a plain linear model on each cluster")
	flags.BoolVar(&cfg.BetaReg, "betareg", false, "Use beta-regression (requires --combine)")
	flags.BoolVar(&cfg.Counts, "counts", false, "Outcome is count data (mixed-effect model only)")
	cmd.MarkFlagsMutuallyExclusive("skat", "gee-args", "combine", "bumping", "lm")

	flags.Float64Var(&cfg.OutlierSDs, "outlier-sds", DEFAULT_OUTLIER_SDS, "Set values more than this many standard deviations from the probe mean to missing (0 disables)")
	flags.StringVar(&cfg.Weights, "weights", "", "Matrix of weights (probes x samples), e.g. read depths")

	flags.StringVar(&cfg.X, "X", "", "Matrix with the same samples as the methylation file (e.g. expression) to test against each cluster")
	flags.StringVar(&cfg.XLocs, "X-locs", "", "Locations of the --X probes (BED-like with a 'probe' column header)")
	flags.IntVar(&cfg.XDist, "X-dist", 0, "Only test --X probes within this distance of a cluster (cis)")

	flags.StringVarP(&cfg.Out, "out", "o", "-", "Output file (default: stdout)")
	flags.StringVar(&cfg.Backend, "backend", DEFAULT_BACKEND, "Command starting the statistics backend")
	flags.IntVarP(&cfg.CPUs, "cpus", "j", runtime.NumCPU(), "Number of CPUs available to the backend")
	flags.IntVarP(&cfg.CompressPayload, "compress-payload", "c", 0, "ZSTD level for datasets sent to the backend (0=disabled, 1-22)")
	flags.StringVar(&cfg.BatchFactors, "batch-factors", DEFAULT_BATCH_FACTORS, "Clusters per batch per CPU: without --X, with --X and --X-locs, with --X only")
	flags.BoolVar(&cfg.Verbose, "verbose", false, "Log every batch")
	flags.BoolVarP(&cfg.Quiet, "quiet", "q", false, "Only log warnings and errors")
}

// addClusteringFlags registers the de-novo clustering flags
func addClusteringFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	flags.StringVar(&cfg.Clusterer, "clusterer", DEFAULT_CLUSTERER, "Command running the adjacency clustering")
	flags.Float64Var(&cfg.RhoMin, "rho-min", 0.32, "Minimum correlation to merge 2 probes")
	flags.IntVar(&cfg.MinClusterSize, "min-cluster-size", 1, "Minimum number of probes in a cluster")
	flags.StringVar(&cfg.Linkage, "linkage", "complete", "Linkage method (single, complete)")
	flags.IntVar(&cfg.MaxDist, "max-dist", 200, "Never merge probes this distant")
	flags.Float64Var(&cfg.MergeLinkage, "merge-linkage", 0.24, "Fraction of probes that must be correlated to merge 2 clusters")
	flags.IntVar(&cfg.MaxMergeDist, "max-merge-dist", 0, "Max distance between 2 clusters that could be merged (default 1.5 * --max-dist)")
}

// Method returns the statistical method selected by the flags and the model
func (c *Config) Method() (Method, error) {
	selected := make([]string, 0, 5)
	if c.SKAT {
		selected = append(selected, "--skat")
	}
	if c.GEEArgs != "" {
		selected = append(selected, "--gee-args")
	}
	if c.Combine != "" {
		selected = append(selected, "--combine")
	}
	if c.Bumping {
		selected = append(selected, "--bumping")
	}
	if c.LM {
		selected = append(selected, "--lm")
	}
	if len(selected) > 1 {
		return nil, fmt.Errorf("%w: only one of %s may be given", ErrConfig, strings.Join(selected, ", "))
	}
	if c.Combine != "" && c.Combine != "liptak" && c.Combine != "z-score" {
		return nil, fmt.Errorf("%w: --combine must be 'liptak' or 'z-score', got %q", ErrConfig, c.Combine)
	}
	if c.BetaReg && c.Combine == "" {
		return nil, fmt.Errorf("%w: must specify --combine when using --betareg", ErrConfig)
	}

	if strings.Contains(c.Model, "|") {
		if len(selected) > 0 || c.BetaReg {
			return nil, fmt.Errorf("%w: a mixed-effect model cannot be used with %s", ErrConfig, strings.Join(append(selected, betaregFlag(c.BetaReg)...), ", "))
		}
		return MixedModel{}, nil
	}
	if c.Counts {
		return nil, fmt.Errorf("%w: --counts requires a mixed-effect model", ErrConfig)
	}

	switch {
	case c.SKAT:
		return SKAT{}, nil
	case c.GEEArgs != "":
		return parseGEEArgs(c.GEEArgs)
	case c.BetaReg:
		return BetaRegression{Combine: c.Combine}, nil
	case c.Combine != "":
		return Combine{Stat: c.Combine}, nil
	case c.Bumping:
		return Bumping{}, nil
	case c.LM:
		return LinearModel{}, nil
	}
	return nil, fmt.Errorf("%w: must specify one of --skat, --gee-args, --combine, --bumping, --lm or a mixed-effect model in lme4 syntax", ErrConfig)
}

func betaregFlag(on bool) []string {
	if on {
		return []string{"--betareg"}
	}
	return nil
}

// Covariate returns the tested covariate: the first term right of '~'
func (c *Config) Covariate() (string, error) {
	parts := strings.SplitN(c.Model, "~", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: model must look like 'methylation ~ covariate', got %q", ErrConfig, c.Model)
	}
	covariate := strings.TrimSpace(strings.Split(parts[1], "+")[0])
	if covariate == "" {
		return "", fmt.Errorf("%w: model %q has no covariate", ErrConfig, c.Model)
	}
	return covariate, nil
}

// batchFactors parses the k1,k2,k3 batch factors. The auxiliary matrix with
// locations must get the smallest batches and the run without an auxiliary
// matrix the largest
func (c *Config) batchFactors() (k1, k2, k3 int, err error) {
	parts := strings.Split(c.BatchFactors, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: --batch-factors needs 3 comma-separated integers, got %q", ErrConfig, c.BatchFactors)
	}
	ks := make([]int, 3)
	for i, p := range parts {
		ks[i], err = strconv.Atoi(strings.TrimSpace(p))
		if err != nil || ks[i] < 1 {
			return 0, 0, 0, fmt.Errorf("%w: invalid batch factor %q", ErrConfig, p)
		}
	}
	k1, k2, k3 = ks[0], ks[1], ks[2]
	if !(k2 < k3 && k3 < k1) {
		return 0, 0, 0, fmt.Errorf("%w: batch factors must satisfy with-locations < without-locations < no-matrix, got %q", ErrConfig, c.BatchFactors)
	}
	return k1, k2, k3, nil
}

// BatchSize is the number of clusters sent to the backend in one call
func (c *Config) BatchSize() int {
	k1, k2, k3, err := c.batchFactors()
	if err != nil {
		k1, k2, k3 = 50, 4, 8
	}
	cpus := c.CPUs
	if cpus < 1 {
		cpus = 1
	}
	switch {
	case c.X == "":
		return k1 * cpus
	case c.XLocs != "":
		return k2 * cpus
	default:
		return k3 * cpus
	}
}

// Workers is the number of backend workers: one CPU stays with the pipeline
func (c *Config) Workers() int {
	if c.X == "" || c.CPUs <= 2 {
		return 1
	}
	return c.CPUs - 1
}

// MaxCisDist returns the cis-window distance or noDistanceLimit
func (c *Config) MaxCisDist() int {
	if !c.XDistSet {
		return noDistanceLimit
	}
	return c.XDist
}

// ClusterParams returns the parameters handed to the clusterer
func (c *Config) ClusterParams() ClusterParams {
	maxMerge := c.MaxMergeDist
	if maxMerge == 0 {
		maxMerge = c.MaxDist * 3 / 2
	}
	return ClusterParams{
		MaxDist:        c.MaxDist,
		RhoMin:         c.RhoMin,
		Linkage:        c.Linkage,
		MergeLinkage:   c.MergeLinkage,
		MaxMergeDist:   maxMerge,
		MinClusterSize: c.MinClusterSize,
	}
}

// Validate checks the configuration. Every error wraps ErrConfig
func (c *Config) Validate() error {
	if _, err := c.Covariate(); err != nil {
		return err
	}
	if _, err := c.Method(); err != nil {
		return err
	}
	if _, _, _, err := c.batchFactors(); err != nil {
		return err
	}

	if c.XLocs != "" && c.X == "" {
		return fmt.Errorf("%w: --X-locs requires --X", ErrConfig)
	}
	if c.XDistSet && c.XLocs == "" {
		return fmt.Errorf("%w: --X-dist requires --X-locs", ErrConfig)
	}
	if c.XDistSet && c.XDist < 0 {
		return fmt.Errorf("%w: --X-dist must not be negative", ErrConfig)
	}
	if c.OutlierSDs < 0 {
		return fmt.Errorf("%w: --outlier-sds must not be negative", ErrConfig)
	}
	if c.CompressPayload < 0 || c.CompressPayload > 22 {
		return fmt.Errorf("%w: compression level must be between 0 and 22", ErrConfig)
	}
	if c.CPUs < 1 {
		return fmt.Errorf("%w: --cpus must be at least 1", ErrConfig)
	}
	if c.Regions == "" {
		if c.Linkage != "single" && c.Linkage != "complete" {
			return fmt.Errorf("%w: --linkage must be 'single' or 'complete', got %q", ErrConfig, c.Linkage)
		}
		if c.MinClusterSize < 1 {
			return fmt.Errorf("%w: --min-cluster-size must be at least 1", ErrConfig)
		}
	}

	for _, p := range []struct{ flag, path string }{
		{"covs", c.Covariates},
		{"methylation", c.Methylation},
		{"--weights", c.Weights},
		{"--X", c.X},
		{"--X-locs", c.XLocs},
		{"--regions", c.Regions},
	} {
		if p.path == "" || p.path == "-" {
			continue
		}
		ok, err := pathutil.Exists(p.path)
		if err != nil {
			return fmt.Errorf("%w: checking %s: %v", ErrConfig, p.flag, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s file does not exist: %s", ErrConfig, p.flag, p.path)
		}
	}
	return nil
}
