package main

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// clusterMatrix returns a working copy of the cluster values: one row per
// probe, one column per sample. Features are never modified
func clusterMatrix(c Cluster, weights bool) [][]float64 {
	m := make([][]float64, len(c))
	for i, f := range c {
		src := f.Values
		if weights {
			src = f.Weights
		}
		m[i] = append([]float64(nil), src...)
	}
	return m
}

// nonMissing returns the values of row that are not NaN
func nonMissing(row []float64) []float64 {
	kept := make([]float64, 0, len(row))
	for _, v := range row {
		if !math.IsNaN(v) {
			kept = append(kept, v)
		}
	}
	return kept
}

// setOutlierNaN sets to NaN every value more than nSDs standard deviations
// from its probe mean. Mean and standard deviation ignore missing values.
// Rows without spread (all missing, a single value or zero variance) are left alone
func setOutlierNaN(rows [][]float64, nSDs float64) {
	if nSDs <= 0 {
		return
	}
	for _, row := range rows {
		kept := nonMissing(row)
		if len(kept) < 2 {
			continue
		}
		mean, sd := stat.MeanStdDev(kept, nil)
		if sd == 0 || math.IsNaN(sd) {
			continue
		}
		lo, hi := mean-nSDs*sd, mean+nSDs*sd
		for i, v := range row {
			if v < lo || v > hi {
				row[i] = math.NaN()
			}
		}
	}
}
