package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/shenwei356/xopen"
)

// useFakeBackend replaces the backend session for the duration of a test
func useFakeBackend(t *testing.T, fit func(*Request) (*ResultTable, error)) *fakeBackend {
	t.Helper()
	fake := &fakeBackend{fit: fit}
	orig := startBackend
	startBackend = func(context.Context, *Config) (Backend, error) { return fake, nil }
	t.Cleanup(func() { startBackend = orig })
	return fake
}

// fakeClusterer reads cluster lines from a string instead of a child process
type fakeClusterer struct {
	out string
}

func (f fakeClusterer) Cluster(_ context.Context, _ string, feats FeatureIterator, p ClusterParams) (ClusterSource, error) {
	return withMinSize(newLineClusterSource(strings.NewReader(f.out), feats), p.MinClusterSize), nil
}

func testInputs(t *testing.T) (covs, meth string) {
	covs = writeTestFile(t, "covs.csv", "id,disease,age\nA,1,30\nB,1,41\nC,0,35\nD,0,52\nE,1,60\n")
	meth = writeTestFile(t, "meth.txt.gz", strings.Join([]string{
		"probe\tD\tC\tB\tA",
		"chr1:100\t4\t3\t2\t1",
		"chr1:150\t5\t4\t3\t2",
		"chr1:900\t2\t1\t1\t1",
		"chr2:10\t1\t2\t3\t4",
	}, "\n")+"\n")
	return covs, meth
}

func testConfig(covs, meth, out string) *Config {
	return &Config{
		Model:          "methylation ~ disease",
		Covariates:     covs,
		Methylation:    meth,
		Out:            out,
		GEEArgs:        "ex,CpG",
		OutlierSDs:     DEFAULT_OUTLIER_SDS,
		CPUs:           1,
		BatchFactors:   DEFAULT_BATCH_FACTORS,
		Linkage:        "complete",
		MaxDist:        200,
		RhoMin:         0.32,
		MergeLinkage:   0.24,
		MinClusterSize: 1,
	}
}

// readOutput returns the lines of a plain or compressed output file
func readOutput(t *testing.T, path string) []string {
	t.Helper()
	fh, err := xopen.Ropen(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	b, err := io.ReadAll(fh)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestRunRegions(t *testing.T) {
	covs, meth := testInputs(t)
	out := filepath.Join(t.TempDir(), "out.tsv")
	fake := useFakeBackend(t, oneRowPerCluster)

	cfg := testConfig(covs, meth, out)
	cfg.Regions = writeTestFile(t, "regions.bed", "chrom\tstart\tend\tname\nchr1\t50\t200\tdmr1\nchr2\t1\t100\tdmr2\n")
	if err := runRegions(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"#chrom\tstart\tend\tcoef\tp\ticoef\tn_probes\tmodel\tcovariate\tmethod",
		"chr1\t100\t150\t0.8\t0.01\t0\t2\tmethylation ~ disease\tdisease\tgee:ex,CpG",
		"chr2\t10\t10\t0.8\t0.01\t0\t1\tmethylation ~ disease\tdisease\tlm",
	}
	if got := readOutput(t, out); !reflect.DeepEqual(got, want) {
		t.Errorf("output =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}

	if !fake.closed {
		t.Error("backend session was not closed")
	}
	// samples follow the covariate order; E has no measurements
	lines := strings.Split(string(fake.reqs[0].Dataset), "\n")
	if lines[0] != "disease,age,id,CpG__1__chr1.100,CpG__1__chr1.150,CpG__2__chr2.10" || lines[1] != "1,30,0,1,2,4" {
		t.Errorf("unexpected dataset %q", fake.reqs[0].Dataset)
	}
}

func TestRunDenovo(t *testing.T) {
	covs, meth := testInputs(t)
	out := filepath.Join(t.TempDir(), "out.tsv.gz")
	useFakeBackend(t, oneRowPerCluster)
	orig := newClusterer
	newClusterer = func(*Config) Clusterer {
		return fakeClusterer{out: "chr1:100,chr1:150\nchr1:900\nchr2:10\n"}
	}
	t.Cleanup(func() { newClusterer = orig })

	cfg := testConfig(covs, meth, out)
	cfg.MinClusterSize = 2
	if err := runDenovo(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	got := readOutput(t, out)
	if len(got) != 2 || !strings.HasPrefix(got[1], "chr1\t100\t150\t") {
		t.Errorf("unexpected output %q", got)
	}
}

func TestRunModelConfigErrors(t *testing.T) {
	covs, meth := testInputs(t)
	useFakeBackend(t, oneRowPerCluster)

	tests := []struct {
		name   string
		modify func(c *Config)
		target error
	}{
		{name: "covariate not in table", modify: func(c *Config) { c.Model = "methylation ~ smoking" }, target: ErrConfig},
		{name: "no method", modify: func(c *Config) { c.GEEArgs = "" }, target: ErrConfig},
		{name: "no shared samples", modify: func(c *Config) {
			c.Covariates = writeTestFile(t, "other.csv", "id,disease\nX,1\nY,0\n")
		}, target: ErrSampleMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.tsv")
			cfg := testConfig(covs, meth, out)
			cfg.Regions = writeTestFile(t, "regions.bed", "chr1\t50\t200\n")
			tt.modify(cfg)
			err := runRegions(context.Background(), cfg)
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Errorf("no output should be written on a configuration error")
			}
		})
	}
}

func TestRunRegionsAmbiguous(t *testing.T) {
	covs, meth := testInputs(t)
	useFakeBackend(t, oneRowPerCluster)
	cfg := testConfig(covs, meth, filepath.Join(t.TempDir(), "out.tsv"))
	cfg.Regions = writeTestFile(t, "regions.bed", "chr1\t50\t200\ta\nchr1\t120\t300\tb\n")
	if err := runRegions(context.Background(), cfg); !errors.Is(err, ErrAmbiguousRegion) {
		t.Errorf("expected ErrAmbiguousRegion, got %v", err)
	}

	// the ambiguous probe is in the first batch, so nothing was written
	raw, err := os.ReadFile(cfg.Out)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(raw) != 0 {
		t.Errorf("expected no output, got %q", raw)
	}
}

func TestRegionDistances(t *testing.T) {
	features, err := newAuxIndex([]AuxProbe{
		{ID: "g1", Chrom: "chr1", Start: 1000, End: 2000, Strand: "+", Name: "G1"},
		{ID: "g2", Chrom: "chr1", Start: 3000, End: 4000, Strand: "-", Name: "G2"},
		{ID: "g3", Chrom: "chr2", Start: 10, End: 20, Strand: "+", Name: "G3"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	regions := []Region{{Chrom: "chr1", Start: 2300, End: 2400, Name: "dmr1"}}

	tests := []struct {
		name    string
		maxDist int
		nearest bool
		want    []int
	}{
		{name: "all on chromosome", maxDist: noDistanceLimit, want: []int{300, 600}},
		{name: "within distance", maxDist: 400, want: []int{300}},
		{name: "nearest", maxDist: noDistanceLimit, nearest: true, want: []int{300}},
		{name: "none in reach", maxDist: 100, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			for _, rd := range regionDistances(regions, features, tt.maxDist, tt.nearest) {
				got = append(got, rd.Distance)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("distances = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunDistance(t *testing.T) {
	dmrs := writeTestFile(t, "dmrs.bed", "chr1\t2300\t2400\tdmr1\n")
	genes := writeTestFile(t, "genes.txt", "chrom\tstart\tend\tprobe\tstrand\tname\nchr1\t3000\t4000\tENSG2\t-\tG2\n")
	out := filepath.Join(t.TempDir(), "dist.tsv")
	if err := runDistance(dmrs, genes, out, noDistanceLimit, false); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"#chrom\tstart\tend\tname\tprobe\tXname\tXstart\tXend\tXstrand\tdistance",
		"chr1\t2300\t2400\tdmr1\tENSG2\tG2\t3000\t4000\t-\t600",
	}
	if got := readOutput(t, out); !reflect.DeepEqual(got, want) {
		t.Errorf("output = %q, want %q", got, want)
	}
}
