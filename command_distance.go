// Subcommand (`clustermodel distance`) annotating regions (e.g. DMRs from a
// previous run) with the stranded features around them

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
)

// DistanceCommand creates the `distance` subcommand which reports, for every
// region of a BED file, the features of a location table within --max-dist
// and their directional distance to the region
func DistanceCommand() *cobra.Command {
	var (
		dmrFile     string
		featureFile string
		outFile     string
		maxDist     int
		nearest     bool
	)

	cmd := &cobra.Command{
		Use:   "distance",
		Short: "Annotate regions with the distance to nearby stranded features",
		Long: `Report the features (e.g. genes) around each region of a BED file. Distances are
negative upstream of the feature's start, positive downstream and 0 when the
region overlaps the feature.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := noDistanceLimit
			if cmd.Flags().Changed("max-dist") {
				if maxDist < 0 {
					return fmt.Errorf("%w: --max-dist must not be negative", ErrConfig)
				}
				limit = maxDist
			}
			return runDistance(dmrFile, featureFile, outFile, limit, nearest)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&dmrFile, "dmrs", "i", "", "BED file of regions (required)")
	flags.StringVarP(&featureFile, "features", "f", "", "Feature locations with a 'probe' column header, plus optional 'strand' and 'name' columns (required)")
	flags.StringVarP(&outFile, "out", "o", "-", "Output file (default: stdout)")
	flags.IntVarP(&maxDist, "max-dist", "d", 0, "Only report features within this distance (default: whole chromosome)")
	flags.BoolVarP(&nearest, "nearest", "n", false, "Only report the nearest feature of each region")
	cmd.MarkFlagRequired("dmrs")
	cmd.MarkFlagRequired("features")

	return cmd
}

// regionDistance is one region/feature pair
type regionDistance struct {
	Region   Region
	Feature  AuxProbe
	Distance int
}

// regionDistances pairs every region with the features near it, in feature
// table order. With nearest only the feature with the smallest absolute
// distance is kept, the first one on ties
func regionDistances(regions []Region, features *AuxIndex, maxDist int, nearest bool) []regionDistance {
	var out []regionDistance
	for _, r := range regions {
		var best *regionDistance
		for _, f := range features.Near(r.Chrom, r.Start, r.End, maxDist) {
			d, ok := directionalDistance(r.Chrom, r.Start, r.End, f)
			if !ok || (maxDist != noDistanceLimit && abs(d) > maxDist) {
				continue
			}
			rd := regionDistance{Region: r, Feature: f, Distance: d}
			if !nearest {
				out = append(out, rd)
				continue
			}
			if best == nil || abs(d) < abs(best.Distance) {
				best = &rd
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	return out
}

func writeRegionDistances(w io.Writer, rows []regionDistance) error {
	if _, err := fmt.Fprintln(w, "#chrom\tstart\tend\tname\tprobe\tXname\tXstart\tXend\tXstrand\tdistance"); err != nil {
		return err
	}
	for _, rd := range rows {
		fields := []string{
			rd.Region.Chrom,
			strconv.Itoa(rd.Region.Start),
			strconv.Itoa(rd.Region.End),
			rd.Region.Name,
			rd.Feature.ID,
			rd.Feature.Name,
			strconv.Itoa(rd.Feature.Start),
			strconv.Itoa(rd.Feature.End),
			rd.Feature.Strand,
			strconv.Itoa(rd.Distance),
		}
		if _, err := fmt.Fprintln(w, strings.Join(fields, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func runDistance(dmrFile, featureFile, outFile string, maxDist int, nearest bool) error {
	regions, err := readRegions(dmrFile)
	if err != nil {
		return err
	}
	locs, err := readAuxLocations(featureFile)
	if err != nil {
		return err
	}
	features, err := newAuxIndex(locs, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", featureFile, err)
	}

	outfh, err := xopen.Wopen(outFile)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer outfh.Close()

	if err := writeRegionDistances(outfh, regionDistances(regions, features, maxDist, nearest)); err != nil {
		return fmt.Errorf("error writing output: %w", err)
	}
	return nil
}
