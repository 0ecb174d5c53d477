// Subcommand (`clustermodel regions`) testing predefined regions instead of
// de-novo clusters. Consecutive probes in the same region form one cluster

package main

import (
	"context"

	"github.com/spf13/cobra"
)

// RegionsCommand creates the `regions` subcommand.
//
// Each run of consecutive probes falling in the same region of the BED file is
// tested as one cluster. Probes outside every region are ignored and a probe
// overlapping two regions stops the run
func RegionsCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "regions [flags] <model> <covariates> <methylation>",
		Short: "Test the probes of predefined regions (e.g. promoters or DMRs)",
		Long: `Group probes by the regions of a BED file and test each region against the
covariate. Accepts the same model, method and auxiliary matrix flags as the
default command; no clustering is performed.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Model, cfg.Covariates, cfg.Methylation = args[0], args[1], args[2]
			cfg.XDistSet = cmd.Flags().Changed("X-dist")
			return runRegions(cmd.Context(), &cfg)
		},
	}

	addModelFlags(cmd, &cfg)
	cmd.Flags().StringVarP(&cfg.Regions, "regions", "r", "", "BED file of regions (chrom, start, end[, name]) to test (required)")
	cmd.MarkFlagRequired("regions")

	return cmd
}

// runRegions tests one cluster per run of probes in a region
func runRegions(ctx context.Context, cfg *Config) error {
	return runModel(ctx, cfg, func(_ context.Context, feats FeatureIterator, shared *sharedTables) (ClusterSource, error) {
		g, err := NewRegionGrouper(feats, shared.regions)
		if err != nil {
			return nil, err
		}
		return g, nil
	})
}
