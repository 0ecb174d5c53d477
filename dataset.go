package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"

	"github.com/samber/lo"
)

// Dataset is the table sent to the backend for one batch: one row per sample
// holding the covariates, an integer sample id starting at 0 and one column
// per probe of every cluster. It is built once per batch and never modified
type Dataset struct {
	Header []string
	Rows   [][]string
}

// probeColumn names the column of a probe: CpG__<cluster>__<probe>, or
// W__<cluster>__<probe> for its weights. Clusters are numbered from 1
func probeColumn(kind string, cluster int, probe string) string {
	return fmt.Sprintf("%s__%d__%s", kind, cluster, fixName(probe))
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// buildDataset combines the covariates with the values of every cluster of
// the batch. Values are copied before outlier removal. A covariate named id
// is overwritten in place by the sample id
func buildDataset(cov *Covariates, b *Batch, outlierSDs float64) *Dataset {
	header := append([]string(nil), cov.Names...)
	idCol := lo.IndexOf(header, "id")
	if idCol < 0 {
		idCol = len(header)
		header = append(header, "id")
	}

	type block struct {
		values  [][]float64
		weights [][]float64
	}
	blocks := make([]block, len(b.Clusters))
	for k, c := range b.Clusters {
		values := clusterMatrix(c, false)
		setOutlierNaN(values, outlierSDs)
		blocks[k].values = values
		for _, f := range c {
			header = append(header, probeColumn("CpG", k+1, f.ID))
		}
		if c.HasWeights() {
			blocks[k].weights = clusterMatrix(c, true)
			for _, f := range c {
				header = append(header, probeColumn("W", k+1, f.ID))
			}
		}
	}

	rows := make([][]string, len(cov.Samples))
	for i := range cov.Samples {
		row := make([]string, 0, len(header))
		row = append(row, cov.Rows[i]...)
		if idCol == len(row) {
			row = append(row, "")
		}
		row[idCol] = strconv.Itoa(i)
		for _, bl := range blocks {
			for _, probe := range bl.values {
				row = append(row, formatValue(probe[i]))
			}
			for _, probe := range bl.weights {
				row = append(row, formatValue(probe[i]))
			}
		}
		rows[i] = row
	}
	return &Dataset{Header: header, Rows: rows}
}

// CSV encodes the dataset; quoting is left to encoding/csv so covariate values
// may hold any character
func (d *Dataset) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(d.Header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(d.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
