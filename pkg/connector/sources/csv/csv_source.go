// Package csv provides a CSV file row source. Each data row becomes one
// record with columns mapped from the header line.
package csv

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/core"
	"github.com/quartzdata/foresight/pkg/connector/registry"
	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/pool"
)

func init() {
	_ = registry.RegisterSource("csv", NewSource)
}

// Source streams rows from a CSV file. Recognized options: "path" (required),
// "has_header" (default true).
type Source struct {
	path      string
	hasHeader bool
	buffer    int
	file      *os.File
}

// NewSource creates a CSV source from configuration.
func NewSource(cfg *config.BaseConfig) (core.Source, error) {
	path := cfg.Source.Option("path", "")
	if path == "" {
		return nil, fserrors.New(fserrors.ErrorTypeConfig, "csv source requires a path option")
	}
	return &Source{
		path:      path,
		hasHeader: cfg.Source.OptionBool("has_header", true),
		buffer:    cfg.Performance.ChannelBuffer,
	}, nil
}

// Open opens the file.
func (s *Source) Open(_ context.Context, _ *config.BaseConfig) error {
	f, err := os.Open(s.path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return fserrors.Wrap(err, fserrors.ErrorTypeConnection, "failed to open csv file").
			WithDetail("path", s.path)
	}
	s.file = f
	return nil
}

// Read streams records until EOF or cancellation.
func (s *Source) Read(ctx context.Context) (*core.RecordStream, error) {
	if s.file == nil {
		return nil, fserrors.New(fserrors.ErrorTypeValidation, "csv source read before open")
	}

	records := make(chan *pool.Record, s.buffer)
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)

		reader := csv.NewReader(s.file)
		reader.ReuseRecord = true

		var header []string
		if s.hasHeader {
			row, err := reader.Read()
			if err != nil {
				errs <- fserrors.Wrap(err, fserrors.ErrorTypeData, "failed to read csv header")
				return
			}
			header = append(header, row...)
		}

		rowNum := 0
		for {
			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errs <- fserrors.Wrap(err, fserrors.ErrorTypeData, "failed to read csv row").
					WithDetail("row", rowNum)
				return
			}
			if header == nil {
				for i := range row {
					header = append(header, "column_"+strconv.Itoa(i))
				}
			}

			rec := pool.GetRecord()
			rec.ID = pool.GenerateID("csv")
			rec.Metadata.Source = "csv"
			for i, col := range header {
				if i < len(row) {
					rec.SetData(col, row[i])
				}
			}

			select {
			case records <- rec:
				rowNum++
			case <-ctx.Done():
				rec.Release()
				errs <- ctx.Err()
				return
			}
		}
	}()

	return &core.RecordStream{Records: records, Errors: errs}, nil
}

// Close closes the file.
func (s *Source) Close(_ context.Context) error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

