// Boundary with the statistics backend: requests, responses and the backend session

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// Backend fits the models of one batch per call. Implementations own their
// session and release it on Close
type Backend interface {
	Fit(ctx context.Context, req *Request) (*ResultTable, error)
	Close() error
}

// AuxRef points the backend at the rows of the auxiliary matrix to test.
// Probes is nil when every row is tested
type AuxRef struct {
	Matrix string   `json:"matrix"`
	Probes []string `json:"probes,omitempty"`
}

// Request is one backend call
type Request struct {
	Batch     int               `json:"batch"`
	Method    MethodKind        `json:"method"`
	Params    map[string]string `json:"params"`
	Model     string            `json:"model"`
	Counts    bool              `json:"counts"`
	Workers   int               `json:"workers"`
	NClusters int               `json:"n_clusters"`
	Aux       *AuxRef           `json:"aux,omitempty"`

	// Dataset is the CSV text of the combined dataset
	Dataset []byte `json:"-"`
}

// ResultRow is one test result, annotated with the location of its cluster
// and, in eQTL mode, with the auxiliary probe
type ResultRow struct {
	ClusterID int
	Coef      float64
	ICoef     float64
	P         float64
	Covariate string
	Model     string
	X         string

	Chrom   string
	Start   int
	End     int
	NProbes int
	Method  string

	Distance    int
	HasDistance bool
	XStart      int
	XEnd        int
	XStrand     string
	XName       string
}

// ResultTable holds the rows returned for one batch
type ResultTable struct {
	Rows []ResultRow
}

// BackendError reports a failed batch
type BackendError struct {
	Batch int
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend failed on batch %d: %v", e.Batch, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// wireRequest is the JSON line sent to the backend
type wireRequest struct {
	*Request
	DatasetEncoding string `json:"dataset_encoding"`
	DatasetText     string `json:"dataset,omitempty"`
	DatasetZstd     []byte `json:"dataset_zstd,omitempty"`
}

// requestEncoder serializes every request sent to the backend
type requestEncoder struct {
	zenc *zstd.Encoder
}

// newRequestEncoder creates an encoder; level 0 sends datasets as plain text
func newRequestEncoder(level int) (*requestEncoder, error) {
	e := &requestEncoder{}
	if level > 0 {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("error creating ZSTD encoder: %w", err)
		}
		e.zenc = enc
	}
	return e, nil
}

// Encode returns the request as a single JSON line
func (e *requestEncoder) Encode(req *Request) ([]byte, error) {
	w := wireRequest{Request: req, DatasetEncoding: "csv"}
	if e.zenc != nil {
		w.DatasetEncoding = "zstd"
		w.DatasetZstd = e.zenc.EncodeAll(req.Dataset, make([]byte, 0, len(req.Dataset)/4))
	} else {
		w.DatasetText = string(req.Dataset)
	}
	b, err := gojson.Marshal(w)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (e *requestEncoder) Close() {
	if e.zenc != nil {
		e.zenc.Close()
	}
}

// wireRow is a result row as sent by the backend. Missing statistics are null
type wireRow struct {
	ClusterID *int     `json:"cluster_id"`
	Coef      *float64 `json:"coef"`
	ICoef     *float64 `json:"icoef"`
	P         *float64 `json:"p"`
	Covariate *string  `json:"covariate"`
	Model     *string  `json:"model"`
	X         string   `json:"X"`
}

type wireResponse struct {
	Rows  []gojson.RawMessage `json:"rows"`
	Error string              `json:"error"`
}

// decodeResponse parses a backend response line and checks it against the
// number of clusters in the batch
func decodeResponse(line []byte, nClusters int) (*ResultTable, error) {
	var resp wireResponse
	if err := gojson.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("backend error: %s", resp.Error)
	}
	if len(resp.Rows) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	table := &ResultTable{Rows: make([]ResultRow, 0, len(resp.Rows))}
	for i, raw := range resp.Rows {
		var cols map[string]gojson.RawMessage
		if err := gojson.Unmarshal(raw, &cols); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		for _, col := range []string{"coef", "p", "covariate", "model"} {
			if _, ok := cols[col]; !ok {
				return nil, fmt.Errorf("row %d: missing column %q", i+1, col)
			}
		}
		var w wireRow
		if err := gojson.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if nClusters > 1 && w.ClusterID == nil {
			return nil, fmt.Errorf("row %d: missing or null cluster_id", i+1)
		}
		if w.Covariate == nil || w.Model == nil {
			return nil, fmt.Errorf("row %d: null covariate or model", i+1)
		}
		row := ResultRow{
			ClusterID: 1,
			Coef:      floatOrNaN(w.Coef),
			ICoef:     floatOrNaN(w.ICoef),
			P:         floatOrNaN(w.P),
			Covariate: *w.Covariate,
			Model:     *w.Model,
			X:         w.X,
		}
		if w.ClusterID != nil {
			row.ClusterID = *w.ClusterID
		}
		if row.ClusterID < 1 || row.ClusterID > nClusters {
			return nil, fmt.Errorf("row %d: cluster_id %d outside 1..%d", i+1, row.ClusterID, nClusters)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// ExecBackend runs the backend as a child process started once per run.
// Requests and responses are exchanged as JSON lines over stdin and stdout
type ExecBackend struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	enc    *requestEncoder
}

// StartExecBackend starts the backend command, e.g. "Rscript clustermodel-backend.R"
func StartExecBackend(ctx context.Context, command string, compressLevel int) (*ExecBackend, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty backend command", ErrConfig)
	}
	enc, err := newRequestEncoder(compressLevel)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		enc.Close()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		enc.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		enc.Close()
		return nil, fmt.Errorf("error starting backend %q: %w", command, err)
	}
	return &ExecBackend{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 1<<20),
		enc:    enc,
	}, nil
}

// Fit sends one request and waits for its response
func (b *ExecBackend) Fit(ctx context.Context, req *Request) (*ResultTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line, err := b.enc.Encode(req)
	if err != nil {
		return nil, &BackendError{Batch: req.Batch, Err: fmt.Errorf("encoding request: %w", err)}
	}
	if _, err := b.stdin.Write(line); err != nil {
		return nil, fmt.Errorf("writing to backend: %w", err)
	}
	resp, err := b.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading from backend: %w", err)
	}
	table, err := decodeResponse(resp, req.NClusters)
	if err != nil {
		return nil, &BackendError{Batch: req.Batch, Err: err}
	}
	return table, nil
}

// Close ends the session and waits for the backend to exit
func (b *ExecBackend) Close() error {
	defer b.enc.Close()
	if err := b.stdin.Close(); err != nil {
		return err
	}
	return b.cmd.Wait()
}
