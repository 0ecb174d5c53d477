// Adapter for the external adjacency clustering program

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ClusterParams are handed to the clusterer unchanged
type ClusterParams struct {
	MaxDist        int
	RhoMin         float64
	Linkage        string
	MergeLinkage   float64
	MaxMergeDist   int
	MinClusterSize int
}

// Args returns the parameters as command line flags
func (p ClusterParams) Args() []string {
	return []string{
		"--max-dist", strconv.Itoa(p.MaxDist),
		"--rho-min", strconv.FormatFloat(p.RhoMin, 'g', -1, 64),
		"--linkage", p.Linkage,
		"--merge-linkage", strconv.FormatFloat(p.MergeLinkage, 'g', -1, 64),
		"--max-merge-dist", strconv.Itoa(p.MaxMergeDist),
	}
}

// Clusterer turns a feature stream into clusters of correlated neighbouring probes
type Clusterer interface {
	Cluster(ctx context.Context, path string, feats FeatureIterator, p ClusterParams) (ClusterSource, error)
}

// ExecClusterer runs an external clustering program on the methylation file.
// The program prints one cluster per line as comma-separated probe ids in
// genome order; the features themselves are taken from the feature stream
type ExecClusterer struct {
	Command string
}

func (e ExecClusterer) Cluster(ctx context.Context, path string, feats FeatureIterator, p ClusterParams) (ClusterSource, error) {
	args := strings.Fields(e.Command)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty clusterer command", ErrConfig)
	}
	args = append(args, p.Args()...)
	args = append(args, path)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting clusterer %q: %w", e.Command, err)
	}
	src := newLineClusterSource(out, feats)
	src.wait = cmd.Wait
	return withMinSize(src, p.MinClusterSize), nil
}

// lineClusterSource matches cluster lines (comma-separated probe ids) against
// the feature stream. Features not named by any cluster are skipped
type lineClusterSource struct {
	r     *bufio.Reader
	feats FeatureIterator
	wait  func() error
	line  int
}

func newLineClusterSource(r io.Reader, feats FeatureIterator) *lineClusterSource {
	return &lineClusterSource{r: bufio.NewReader(r), feats: feats}
}

func (s *lineClusterSource) Next() (Cluster, error) {
	var line string
	var err error
	for line == "" {
		if line, err = readLine(s.r); err != nil {
			return nil, err
		}
		s.line++
		line = strings.TrimSpace(line)
	}

	ids := strings.Split(line, ",")
	cluster := make(Cluster, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		f, err := s.seek(id)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", s.line, err)
		}
		if len(cluster) > 0 && f.Group != cluster[0].Group {
			return nil, fmt.Errorf("cluster %d spans chromosomes %s and %s", s.line, cluster[0].Group, f.Group)
		}
		cluster = append(cluster, f)
	}
	return cluster, nil
}

// seek advances the feature stream to the probe named id
func (s *lineClusterSource) seek(id string) (*Feature, error) {
	for {
		f, err := s.feats.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("probe %s not found in the feature stream (missing or out of order)", id)
		}
		if err != nil {
			return nil, err
		}
		if f.ID == id {
			return f, nil
		}
	}
}

// Close waits for the clustering program to exit
func (s *lineClusterSource) Close() error {
	if s.wait == nil {
		return nil
	}
	return s.wait()
}
