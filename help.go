package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Custom help function used
// It provides formatted help messages for the root command and the subcommands
func helpFunc(cmd *cobra.Command, args []string) {

	// Specialized help for subcommands
	switch cmd.Name() {
	case "regions":
		fmt.Printf(`
%s

%s
  Group consecutive probes by the regions of a BED file (e.g. promoters or
  DMRs) and test each region against the covariate. Probes outside every
  region are ignored; a probe overlapping two regions is an error.

%s
  %s
  %s
  (all method, auxiliary matrix and backend flags of the root command)

%s
  %s

`,
			bold(getColorizedLogo()+" clustermodel regions - Test predefined regions"),
			bold(yellow("Description:")),
			bold(yellow("Flags:")),
			cyan("-r, --regions")+" <string> : BED file of regions; a header line is detected (required)",
			cyan("-o, --out")+" <string>     : Output file (default, stdout)",
			bold(yellow("Examples:")),
			cyan("clustermodel regions -r promoters.bed --combine liptak 'methylation ~ disease' covs.csv meth.txt.gz"),
		)
		return
	case "distance":
		fmt.Printf(`
%s

%s
  Annotate each region of a BED file with the stranded features around it.
  Distances are negative upstream of the feature start, positive downstream
  and 0 for overlaps.

%s
  %s
  %s
  %s
  %s
  %s

%s
  %s

`,
			bold(getColorizedLogo()+" clustermodel distance - Distance from regions to features"),
			bold(yellow("Description:")),
			bold(yellow("Flags:")),
			cyan("-i, --dmrs")+" <string>     : BED file of regions (required)",
			cyan("-f, --features")+" <string> : Feature table with a 'probe' header column (required)",
			cyan("-d, --max-dist")+" <int>    : Only report features within this distance",
			cyan("-n, --nearest")+" <bool>    : Only report the nearest feature of each region",
			cyan("-o, --out")+" <string>      : Output file (default, stdout)",
			bold(yellow("Examples:")),
			cyan("clustermodel distance -i dmrs.bed -f genes.txt -d 50000 --nearest"),
		)
		return
	}

	// Default: root command help
	fmt.Printf(`
%s

%s
  %s
  %s
  %s
  %s
  %s
  %s

%s
  %s
  %s
  %s
  %s
  %s
  %s
  %s
  %s
  %s

%s
  %s
  %s
  %s
  %s

%s
  %s
  %s

%s
  # De-novo clusters, GEE with exchangeable correlation
  %s

  # Mixed-effect model, expression probes within 100kb of each cluster
  %s

`,
		bold(getColorizedLogo()+" clustermodel v."+VERSION+" - Test clusters of correlated probes against a covariate"),
		bold(yellow("Methods:")),
		cyan("--gee-args")+" <corstr,var> : Generalized estimating equations (e.g. 'ex,CpG')",
		cyan("--combine")+" <string>      : Combine per-probe p-values (liptak, z-score)",
		cyan("--betareg")+" <bool>        : Beta-regression per probe (with --combine)",
		cyan("--skat")+" <bool>           : SKAT on the cluster",
		cyan("--bumping")+" <bool>        : Bump-hunting test",
		cyan("--lm")+" <bool>             : Linear model; a model with '|' selects a mixed-effect model",
		bold(yellow("Flags:")),
		cyan("--weights")+" <string>       : Weights matrix (probes x samples)",
		cyan("--outlier-sds")+" <float>    : Outlier cut in standard deviations (default, 30)",
		cyan("--X")+" <string>             : Auxiliary matrix (e.g. expression) tested against each cluster",
		cyan("--X-locs")+" <string>        : Locations of the --X probes",
		cyan("--X-dist")+" <int>           : Only test --X probes within this distance",
		cyan("-o, --out")+" <string>       : Output file (default, stdout)",
		cyan("-j, --cpus")+" <int>         : Number of CPUs for the backend",
		cyan("--backend")+" <string>       : Command starting the statistics backend",
		cyan("--verbose, -q, --quiet")+"   : Logging level",
		bold(yellow("Clustering:")),
		cyan("--clusterer")+" <string>     : Adjacency clustering command (default, aclust)",
		cyan("--rho-min")+" <float>        : Minimum correlation to merge 2 probes (default, 0.32)",
		cyan("--max-dist")+" <int>         : Never merge probes this distant (default, 200)",
		cyan("--min-cluster-size")+" <int> : Minimum number of probes in a cluster (default, 1)",
		bold(yellow("Subcommands:")),
		cyan("regions")+"  : Test predefined regions instead of de-novo clusters",
		cyan("distance")+" : Annotate regions with the distance to nearby features",
		bold(yellow("Usage examples:")),
		cyan("clustermodel --gee-args ex,CpG 'methylation ~ disease + age' covs.csv meth.txt.gz > out.tsv"),
		cyan("clustermodel --X expr.txt --X-locs expr-locs.txt --X-dist 100000 'methylation ~ disease + (1|id)' covs.csv meth.txt"),
	)
}
