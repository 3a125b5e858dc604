// Package stdout provides a debug sink that prints forecast results as JSON
// lines on standard output.
package stdout

import (
	"context"
	"os"

	gojson "github.com/goccy/go-json"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/core"
	"github.com/quartzdata/foresight/pkg/connector/registry"
	"github.com/quartzdata/foresight/pkg/models"
)

func init() {
	_ = registry.RegisterSink("stdout", NewSink)
}

// Sink prints results as JSON lines.
type Sink struct {
	enc *gojson.Encoder
}

// NewSink creates a stdout sink.
func NewSink(_ *config.BaseConfig) (core.ResultSink, error) {
	return &Sink{}, nil
}

// Open prepares the encoder.
func (s *Sink) Open(_ context.Context, _ *config.BaseConfig) error {
	s.enc = gojson.NewEncoder(os.Stdout)
	return nil
}

// Write prints each result.
func (s *Sink) Write(_ context.Context, results []*models.Result) error {
	for _, r := range results {
		if err := s.enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op.
func (s *Sink) Close(_ context.Context) error {
	return nil
}
