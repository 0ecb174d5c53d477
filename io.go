// clustermodel I/O utilities: feature, covariate, location and region readers, result writer

package main

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/shenwei356/xopen"
)

// readLine returns the next line without its line terminator.
// A final line without a newline is returned with a nil error
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parseProbeID splits a probe id of the form chrom:start or chrom:start-end
func parseProbeID(id string) (chrom string, start, end int, err error) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 || i == len(id)-1 {
		return "", 0, 0, fmt.Errorf("invalid probe id %q (expected chrom:start or chrom:start-end)", id)
	}
	chrom, pos := id[:i], id[i+1:]
	s, e, isRange := strings.Cut(pos, "-")
	if start, err = strconv.Atoi(s); err != nil {
		return "", 0, 0, fmt.Errorf("invalid start in probe id %q", id)
	}
	end = start
	if isRange {
		if end, err = strconv.Atoi(e); err != nil {
			return "", 0, 0, fmt.Errorf("invalid end in probe id %q", id)
		}
	}
	if end < start {
		return "", 0, 0, fmt.Errorf("probe id %q ends before it starts", id)
	}
	return chrom, start, end, nil
}

// parseValue parses a measurement; missing values become NaN
func parseValue(s string) (float64, error) {
	switch s {
	case "", "NA", "na", "nan", "NaN", ".":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// featureReader streams features from a probes x samples matrix whose first
// column holds probe ids (chrom:start[-end]). An optional weights matrix with
// the same layout is read in lock step
type featureReader struct {
	fh   *xopen.Reader
	wfh  *xopen.Reader
	path string

	samples []string
	cols    []int
	line    int

	lastChrom string
	lastStart int
	seen      map[string]bool
}

// openFeatures opens the methylation matrix and, if given, the weights matrix
func openFeatures(path, weightsPath string) (*featureReader, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	header, err := readLine(fh.Reader)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("error reading header of %s: %w", path, err)
	}
	fields := strings.Split(header, "\t")
	if len(fields) < 2 {
		fh.Close()
		return nil, fmt.Errorf("%s: header has no sample columns", path)
	}

	r := &featureReader{
		fh:      fh,
		path:    path,
		samples: fields[1:],
		line:    1,
		seen:    make(map[string]bool),
	}
	r.cols = make([]int, len(r.samples))
	for i := range r.cols {
		r.cols[i] = i
	}

	if weightsPath != "" {
		r.wfh, err = xopen.Ropen(weightsPath)
		if err != nil {
			fh.Close()
			return nil, fmt.Errorf("error opening %s: %w", weightsPath, err)
		}
		wheader, err := readLine(r.wfh.Reader)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("error reading header of %s: %w", weightsPath, err)
		}
		if strings.Join(strings.Split(wheader, "\t")[1:], "\t") != strings.Join(r.samples, "\t") {
			r.Close()
			return nil, fmt.Errorf("samples of %s do not match %s", weightsPath, path)
		}
	}
	return r, nil
}

// Samples returns the sample ids of the matrix header
func (r *featureReader) Samples() []string { return r.samples }

// Select restricts and reorders the values of every feature to the given samples
func (r *featureReader) Select(samples []string) error {
	index := make(map[string]int, len(r.samples))
	for i, s := range r.samples {
		index[s] = i
	}
	cols := make([]int, len(samples))
	for i, s := range samples {
		j, ok := index[s]
		if !ok {
			return fmt.Errorf("sample %s is not a column of %s", s, r.path)
		}
		cols[i] = j
	}
	r.cols = cols
	return nil
}

func (r *featureReader) Next() (*Feature, error) {
	var line string
	var err error
	for line == "" {
		line, err = readLine(r.fh.Reader)
		if err != nil {
			if err == io.EOF && r.wfh != nil {
				if _, werr := readLine(r.wfh.Reader); werr != io.EOF {
					return nil, fmt.Errorf("weights matrix has more rows than %s", r.path)
				}
			}
			return nil, err
		}
		r.line++
	}

	fields := strings.Split(line, "\t")
	if len(fields) != len(r.samples)+1 {
		return nil, fmt.Errorf("%s line %d: expected %d fields, got %d", r.path, r.line, len(r.samples)+1, len(fields))
	}
	chrom, start, end, err := parseProbeID(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%s line %d: %w", r.path, r.line, err)
	}
	if err := r.checkOrder(chrom, start); err != nil {
		return nil, fmt.Errorf("%s line %d: %w", r.path, r.line, err)
	}

	f := &Feature{ID: fields[0], Group: chrom, Start: start, End: end}
	if f.Values, err = r.pick(fields[1:]); err != nil {
		return nil, fmt.Errorf("%s line %d: %w", r.path, r.line, err)
	}

	if r.wfh != nil {
		wline, err := readLine(r.wfh.Reader)
		if err != nil {
			return nil, fmt.Errorf("weights: missing row for probe %s: %w", f.ID, err)
		}
		wfields := strings.Split(wline, "\t")
		if wfields[0] != f.ID || len(wfields) != len(fields) {
			return nil, fmt.Errorf("weights: row %q does not match probe %s", wfields[0], f.ID)
		}
		if f.Weights, err = r.pick(wfields[1:]); err != nil {
			return nil, fmt.Errorf("weights for %s: %w", f.ID, err)
		}
	}
	return f, nil
}

func (r *featureReader) pick(fields []string) ([]float64, error) {
	values := make([]float64, len(r.cols))
	for i, c := range r.cols {
		v, err := parseValue(fields[c])
		if err != nil {
			return nil, fmt.Errorf("invalid value %q for sample %s", fields[c], r.samples[c])
		}
		values[i] = v
	}
	return values, nil
}

func (r *featureReader) checkOrder(chrom string, start int) error {
	if chrom == r.lastChrom {
		if start < r.lastStart {
			return fmt.Errorf("%w: %s:%d after %s:%d", errUnsorted, chrom, start, chrom, r.lastStart)
		}
	} else {
		if r.seen[chrom] {
			return fmt.Errorf("%w: %s appears in more than one block", errUnsorted, chrom)
		}
		r.seen[chrom] = true
		r.lastChrom = chrom
	}
	r.lastStart = start
	return nil
}

func (r *featureReader) Close() error {
	var err error
	if r.wfh != nil {
		err = r.wfh.Close()
	}
	if cerr := r.fh.Close(); cerr != nil {
		err = cerr
	}
	return err
}

var csvNameRe = regexp.MustCompile(`\.csv(\.(gz|xz|zst|bz2))?$`)

// Covariates is a samples x covariates table. Values are kept as text and sent
// to the backend unchanged
type Covariates struct {
	Names   []string
	Samples []string
	Rows    [][]string
}

// readCovariates reads a covariate table whose first column holds sample ids.
// Files named *.csv are comma-separated, everything else is tab-separated
func readCovariates(path string) (*Covariates, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer fh.Close()

	cr := csv.NewReader(fh)
	cr.Comma = '\t'
	if csvNameRe.MatchString(path) {
		cr.Comma = ','
	}
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s: no samples", path)
	}

	cov := &Covariates{Names: records[0][1:]}
	for _, rec := range records[1:] {
		cov.Samples = append(cov.Samples, rec[0])
		cov.Rows = append(cov.Rows, rec[1:])
	}
	if dups := lo.FindDuplicates(cov.Samples); len(dups) > 0 {
		return nil, fmt.Errorf("%s: duplicated sample ids: %s", path, strings.Join(dups, ", "))
	}
	return cov, nil
}

// Has reports whether name is a covariate column
func (c *Covariates) Has(name string) bool {
	return lo.Contains(c.Names, name)
}

// Subset returns the covariates of the given samples, in that order
func (c *Covariates) Subset(samples []string) *Covariates {
	index := make(map[string]int, len(c.Samples))
	for i, s := range c.Samples {
		index[s] = i
	}
	out := &Covariates{Names: c.Names}
	for _, s := range samples {
		if i, ok := index[s]; ok {
			out.Samples = append(out.Samples, s)
			out.Rows = append(out.Rows, c.Rows[i])
		}
	}
	return out
}

// ErrSampleMismatch is returned when covariates and measurements share no sample
var ErrSampleMismatch = errors.New("covariate sample ids do not match the measurement columns")

// sharedSamples returns the covariate samples that are also measured, in covariate order
func sharedSamples(cov *Covariates, measured []string) ([]string, error) {
	inMatrix := lo.SliceToMap(measured, func(s string) (string, bool) { return s, true })
	shared := lo.Filter(cov.Samples, func(s string, _ int) bool { return inMatrix[s] })
	if len(shared) == 0 {
		return nil, ErrSampleMismatch
	}
	return shared, nil
}

// readAuxLocations reads the locations of the auxiliary probes. The file must
// have a header with a 'probe' column; the first three other columns are
// chrom, start and end. Optional 'strand' and 'name' (or 'gene') columns are used
func readAuxLocations(path string) ([]AuxProbe, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer fh.Close()

	header, err := readLine(fh.Reader)
	if err != nil {
		return nil, fmt.Errorf("error reading header of %s: %w", path, err)
	}
	cols := strings.Split(strings.TrimPrefix(header, "#"), "\t")
	probeCol, strandCol, nameCol := -1, -1, -1
	var coordCols []int
	for i, c := range cols {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "probe":
			probeCol = i
			continue
		case "strand":
			strandCol = i
		case "name", "gene":
			if nameCol < 0 {
				nameCol = i
			}
		}
		if len(coordCols) < 3 {
			coordCols = append(coordCols, i)
		}
	}
	if probeCol < 0 {
		return nil, fmt.Errorf("%w: %s has no 'probe' column in its header", ErrConfig, path)
	}
	if len(coordCols) < 3 {
		return nil, fmt.Errorf("%w: %s needs chrom, start and end columns", ErrConfig, path)
	}

	var probes []AuxProbe
	for n := 2; ; n++ {
		line, err := readLine(fh.Reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		}
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < len(cols) {
			return nil, fmt.Errorf("%s line %d: expected %d fields, got %d", path, n, len(cols), len(fields))
		}
		start, err := strconv.Atoi(fields[coordCols[1]])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: invalid start %q", path, n, fields[coordCols[1]])
		}
		end, err := strconv.Atoi(fields[coordCols[2]])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: invalid end %q", path, n, fields[coordCols[2]])
		}
		p := AuxProbe{
			ID:     fixName(fields[probeCol]),
			Chrom:  fields[coordCols[0]],
			Start:  start,
			End:    end,
			Strand: "+",
		}
		if strandCol >= 0 {
			p.Strand = fields[strandCol]
		}
		p.Name = p.ID
		if nameCol >= 0 {
			p.Name = fields[nameCol]
		}
		probes = append(probes, p)
	}
	return probes, nil
}

// readMatrixIDs returns the normalized row ids (first column) of a matrix with a header
func readMatrixIDs(path string) (map[string]bool, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer fh.Close()

	if _, err := readLine(fh.Reader); err != nil {
		return nil, fmt.Errorf("error reading header of %s: %w", path, err)
	}
	ids := make(map[string]bool)
	for {
		line, err := readLine(fh.Reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		}
		if line == "" {
			continue
		}
		id, _, _ := strings.Cut(line, "\t")
		ids[fixName(id)] = true
	}
	return ids, nil
}

// readRegions reads a BED file of regions. The first line is a header unless
// its second and third fields are both integers
func readRegions(path string) ([]Region, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer fh.Close()

	var regions []Region
	for n := 1; ; n++ {
		line, err := readLine(fh.Reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", path, err)
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s line %d: expected at least 3 fields", path, n)
		}
		start, serr := strconv.Atoi(fields[1])
		end, eerr := strconv.Atoi(fields[2])
		if serr != nil || eerr != nil {
			if n == 1 {
				continue
			}
			return nil, fmt.Errorf("%s line %d: invalid coordinates", path, n)
		}
		r := Region{Chrom: fields[0], Start: start, End: end}
		if len(fields) > 3 && fields[3] != "" {
			r.Name = fields[3]
		} else {
			r.Name = fmt.Sprintf("%s:%d-%d", r.Chrom, r.Start, r.End)
		}
		regions = append(regions, r)
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("%s: no regions", path)
	}
	return regions, nil
}

// formatFloat writes floats the way the backend reports them; NaN is "nan"
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// rowWriter writes annotated result rows as tab-delimited text after a '#' header.
// The header is written with the first row, so an error raised while the first
// batch is read leaves the output empty. With an auxiliary matrix the tested
// probe is written in an X column; with its locations the probe annotation and
// distance follow
type rowWriter struct {
	w      io.Writer
	icoef  bool
	aux    bool
	eqtl   bool
	header bool
}

func newRowWriter(w io.Writer, icoef, aux, eqtl bool) *rowWriter {
	return &rowWriter{w: w, icoef: icoef, aux: aux || eqtl, eqtl: eqtl}
}

func (w *rowWriter) columns() []string {
	cols := []string{"chrom", "start", "end", "coef", "p"}
	if w.icoef {
		cols = append(cols, "icoef")
	}
	cols = append(cols, "n_probes", "model", "covariate", "method")
	if w.aux {
		cols = append(cols, "X")
	}
	if w.eqtl {
		cols = append(cols, "Xname", "Xstart", "Xend", "Xstrand", "distance")
	}
	return cols
}

// WriteHeader writes the '#'-prefixed column names unless they were already written
func (w *rowWriter) WriteHeader() error {
	if w.header {
		return nil
	}
	w.header = true
	_, err := fmt.Fprintln(w.w, "#"+strings.Join(w.columns(), "\t"))
	return err
}

// Write writes one result row, preceded by the header for the first one
func (w *rowWriter) Write(r *ResultRow) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	fields := []string{
		r.Chrom,
		strconv.Itoa(r.Start),
		strconv.Itoa(r.End),
		formatFloat(r.Coef),
		formatFloat(r.P),
	}
	if w.icoef {
		fields = append(fields, formatFloat(r.ICoef))
	}
	fields = append(fields, strconv.Itoa(r.NProbes), r.Model, r.Covariate, r.Method)
	if w.aux {
		fields = append(fields, r.X)
	}
	if w.eqtl {
		distance := "nan"
		if r.HasDistance {
			distance = strconv.Itoa(r.Distance)
		}
		fields = append(fields, r.XName, strconv.Itoa(r.XStart), strconv.Itoa(r.XEnd), r.XStrand, distance)
	}
	_, err := fmt.Fprintln(w.w, strings.Join(fields, "\t"))
	return err
}
