// Package core defines the connector contracts: row sources that deliver
// records into the pipeline and result sinks that receive forecast rows.
package core

import (
	"context"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/models"
	"github.com/quartzdata/foresight/pkg/pool"
)

// RecordStream is a stream of row records. The Records channel closes when
// the source is exhausted; Errors carries at most one terminal error.
type RecordStream struct {
	Records <-chan *pool.Record
	Errors  <-chan error
}

// Source is a row-streaming delivery mechanism. Implementations deliver
// every record of the underlying dataset exactly once, in no guaranteed
// order.
type Source interface {
	// Open prepares the source (connections, file handles)
	Open(ctx context.Context, cfg *config.BaseConfig) error
	// Read starts streaming records; the stream ends when the source is
	// exhausted or ctx is canceled
	Read(ctx context.Context) (*RecordStream, error)
	// Close releases resources
	Close(ctx context.Context) error
}

// ResultSink receives forecast results. Write may be called many times;
// Close flushes any buffered output.
type ResultSink interface {
	Open(ctx context.Context, cfg *config.BaseConfig) error
	Write(ctx context.Context, results []*models.Result) error
	Close(ctx context.Context) error
}
