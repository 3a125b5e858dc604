// Package csv provides a CSV result sink. Forecast rows are written with a
// header derived from the first result's column set; output is optionally
// gzip-compressed.
package csv

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/core"
	"github.com/quartzdata/foresight/pkg/connector/registry"
	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/models"
)

func init() {
	_ = registry.RegisterSink("csv", NewSink)
}

// fixedHeader is the leading column set of every output row; forecast value
// columns follow, one per model.
var fixedHeader = []string{"partition_key", "timestamp", "training_start", "training_end", "forecast_horizon"}

// Sink writes forecast results as CSV. Recognized options: "path" (required),
// "compress" (gzip when true).
type Sink struct {
	path     string
	compress bool

	file    *os.File
	gz      *gzip.Writer
	writer  *csv.Writer
	columns []string
}

// NewSink creates a CSV sink from configuration.
func NewSink(cfg *config.BaseConfig) (core.ResultSink, error) {
	path := cfg.Sink.Option("path", "")
	if path == "" {
		return nil, fserrors.New(fserrors.ErrorTypeConfig, "csv sink requires a path option")
	}
	return &Sink{
		path:     path,
		compress: cfg.Sink.OptionBool("compress", false),
	}, nil
}

// Open creates the output file.
func (s *Sink) Open(_ context.Context, _ *config.BaseConfig) error {
	f, err := os.Create(s.path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return fserrors.Wrap(err, fserrors.ErrorTypeConnection, "failed to create output file").
			WithDetail("path", s.path)
	}
	s.file = f

	var w io.Writer = f
	if s.compress {
		s.gz = gzip.NewWriter(f)
		w = s.gz
	}
	s.writer = csv.NewWriter(w)
	return nil
}

// Write appends result rows, emitting the header on first write.
func (s *Sink) Write(_ context.Context, results []*models.Result) error {
	if s.writer == nil {
		return fserrors.New(fserrors.ErrorTypeValidation, "csv sink write before open")
	}

	for _, r := range results {
		if s.columns == nil {
			s.columns = append([]string(nil), r.Columns...)
			header := append(append([]string(nil), fixedHeader...), s.columns...)
			if err := s.writer.Write(header); err != nil {
				return fserrors.Wrap(err, fserrors.ErrorTypeData, "failed to write csv header")
			}
		}

		row := []string{
			r.PartitionKey,
			r.Timestamp.Format(time.RFC3339),
			r.TrainingStart.Format(time.RFC3339),
			r.TrainingEnd.Format(time.RFC3339),
			strconv.Itoa(r.Horizon),
		}
		for _, col := range s.columns {
			row = append(row, strconv.FormatFloat(r.Values[col], 'f', -1, 64))
		}
		if err := s.writer.Write(row); err != nil {
			return fserrors.Wrap(err, fserrors.ErrorTypeData, "failed to write csv row")
		}
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Close flushes and closes the output.
func (s *Sink) Close(_ context.Context) error {
	if s.writer != nil {
		s.writer.Flush()
		if err := s.writer.Error(); err != nil {
			return err
		}
	}
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return err
		}
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
