// SPDX-License-Identifier: MIT

package gravity

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/katalvlaran/tripdist/costfn"
)

// LogRecord is one running-log row, written per residual evaluation.
type LogRecord struct {
	Area              string
	Loop              int
	Runtime           time.Duration
	ParamNames        []string
	Params            costfn.Params
	FurnessIterations int
	FurnessRMSE       float64
	Convergence       float64
}

// LogSink receives running-log rows.
type LogSink interface {
	Append(ctx context.Context, rec LogRecord) error
}

// CSVLog appends running-log rows to a CSV file. The header is written only
// when the file does not exist yet.
type CSVLog struct {
	path string
	mu   sync.Mutex
}

// NewCSVLog checks that the parent directory of path exists and warns when
// the file itself already exists (rows are appended to it).
func NewCSVLog(path string, logger *zap.Logger) (*CSVLog, error) {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("gravity: running log directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("gravity: running log directory %q: %w", dir, fs.ErrNotExist)
	}
	if _, err := os.Stat(path); err == nil {
		logger.Warn("running log already exists, new rows will be appended", zap.String("path", path))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("gravity: running log %q: %w", path, err)
	}

	return &CSVLog{path: path}, nil
}

// Path returns the log file location.
func (l *CSVLog) Path() string { return l.path }

// Append implements LogSink.
func (l *CSVLog) Append(_ context.Context, rec LogRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, statErr := os.Stat(l.path)
	writeHeader := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("gravity: open running log: %w", err)
	}
	if err := writeRecord(f, rec, writeHeader); err != nil {
		return multierr.Append(fmt.Errorf("gravity: write running log: %w", err), f.Close())
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("gravity: close running log: %w", err)
	}

	return nil
}

// writeRecord writes rec as one CSV row, preceded by the header when asked.
func writeRecord(out io.Writer, rec LogRecord, header bool) error {
	w := csv.NewWriter(out)
	if header {
		cols := append([]string{"loop_number", "runtime (s)"}, rec.ParamNames...)
		cols = append(cols, "furness_iters", "furness_rmse", "bs_con")
		if err := w.Write(cols); err != nil {
			return err
		}
	}
	row := []string{strconv.Itoa(rec.Loop), strconv.FormatFloat(rec.Runtime.Seconds(), 'f', 3, 64)}
	for _, n := range rec.ParamNames {
		row = append(row, strconv.FormatFloat(rec.Params[n], 'g', -1, 64))
	}
	row = append(row,
		strconv.Itoa(rec.FurnessIterations),
		strconv.FormatFloat(round(rec.FurnessRMSE, 6), 'g', -1, 64),
		strconv.FormatFloat(round(rec.Convergence, 4), 'g', -1, 64),
	)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()

	return w.Error()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
