// Package pipeline orchestrates a forecast run: it drains a row source,
// routes records by partition key to per-key aggregator instances, finalizes
// every partition at end of stream, and writes forecast results to a sink.
//
// Partitions are isolated. Each key gets its own aggregator, driven by a
// single goroutine, so accepts for one partition are strictly sequential
// while distinct partitions proceed in parallel. A failed partition is
// counted and logged; its siblings are unaffected and the run continues.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quartzdata/foresight/internal/aggregator"
	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/core"
	"github.com/quartzdata/foresight/pkg/forecast"
	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/models"
)

// Summary reports the outcome of one pipeline run.
type Summary struct {
	// Records is the number of row records routed
	Records uint64
	// Partitions is the number of distinct partition keys observed
	Partitions int
	// Results is the number of forecast rows written
	Results int
	// Failed maps partition keys to their failure
	Failed map[string]error
}

// Pipeline wires a source, per-partition aggregators, and a sink.
type Pipeline struct {
	cfg    *config.BaseConfig
	source core.Source
	sink   core.ResultSink
	logger *zap.Logger
	tracer trace.Tracer

	aggOpts aggregator.Options
	mem     *aggregator.MemoryWatch
}

// New creates a pipeline from configuration and connectors.
func New(cfg *config.BaseConfig, source core.Source, sink core.ResultSink, logger *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeConfig, "invalid pipeline configuration")
	}

	aggOpts, err := aggregator.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	mem, err := aggregator.NewMemoryWatch(cfg.Aggregation.MemoryBudgetMB)
	if err != nil {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeInternal, "failed to initialize memory watch")
	}

	return &Pipeline{
		cfg:     cfg,
		source:  source,
		sink:    sink,
		logger:  logger.With(zap.String("component", "pipeline"), zap.String("run", cfg.Name)),
		tracer:  otel.Tracer("foresight/pipeline"),
		aggOpts: aggOpts,
		mem:     mem,
	}, nil
}

// newAggregator constructs a fresh aggregator with its own procedure
// instance. One per partition key: the explicit-factory alternative to the
// instance reuse the host runtime would otherwise rely on.
func (p *Pipeline) newAggregator() (*aggregator.Aggregator, error) {
	settings := forecast.Settings{
		SeasonLength: p.cfg.Forecast.SeasonLength,
		Lags:         p.cfg.Forecast.Lags,
	}
	if settings.SeasonLength == 0 {
		settings.SeasonLength = p.aggOpts.Frequency.DefaultSeasonLength()
	}

	proc, err := forecast.New(p.cfg.Forecast.Procedure, settings)
	if err != nil {
		return nil, err
	}

	agg, err := aggregator.New(p.aggOpts, proc, p.logger)
	if err != nil {
		return nil, err
	}
	return agg.WithMemoryWatch(p.mem), nil
}

// partitionWorker drives one partition's aggregator sequentially.
type partitionWorker struct {
	key     string
	records chan *models.Record
}

// partitionOutcome is the terminal report of one partition.
type partitionOutcome struct {
	key     string
	results []*models.Result
	err     error
}

// Run executes the pipeline until the source is exhausted, then finalizes
// every open partition and flushes the sink.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if err := p.source.Open(ctx, p.cfg); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.source.Close(context.Background()); err != nil {
			p.logger.Warn("source close failed", zap.Error(err))
		}
	}()

	if err := p.sink.Open(ctx, p.cfg); err != nil {
		return nil, err
	}

	stream, err := p.source.Read(ctx)
	if err != nil {
		return nil, err
	}

	var (
		workers   = make(map[string]*partitionWorker)
		wg        sync.WaitGroup
		outcomes  = make(chan partitionOutcome, p.cfg.Performance.ChannelBuffer)
		finalize  = make(chan struct{}, p.cfg.Performance.Workers)
		summary   = &Summary{Failed: make(map[string]error)}
		collectWg sync.WaitGroup
	)

	// collector: writes results and records failures
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for outcome := range outcomes {
			if outcome.err != nil {
				reason := string(fserrors.GetType(outcome.err))
				partitionFailures.WithLabelValues(reason).Inc()
				summary.Failed[outcome.key] = outcome.err
				p.logger.Error("partition failed",
					zap.String("partition", outcome.key),
					zap.String("reason", reason),
					zap.Error(outcome.err))
				continue
			}
			partitionsForecast.Inc()
			if err := p.sink.Write(ctx, outcome.results); err != nil {
				summary.Failed[outcome.key] = fserrors.Wrap(err, fserrors.ErrorTypeData, "sink write failed")
				continue
			}
			resultsEmitted.Add(float64(len(outcome.results)))
			summary.Results += len(outcome.results)
		}
	}()

	// route records to per-key workers
	var streamErr error
	for rec := range stream.Records {
		key, ok := rec.GetData(p.cfg.Window.PartitionKeyColumn)
		keyStr, isStr := key.(string)
		if !ok || !isStr || keyStr == "" {
			p.logger.Warn("dropping record without usable partition key", zap.String("id", rec.ID))
			rec.Release()
			continue
		}

		worker, exists := workers[keyStr]
		if !exists {
			worker = &partitionWorker{
				key:     keyStr,
				records: make(chan *models.Record, p.cfg.Performance.ChannelBuffer),
			}
			workers[keyStr] = worker
			partitionsOpened.Inc()

			wg.Add(1)
			go func(w *partitionWorker) {
				defer wg.Done()
				outcomes <- p.runPartition(ctx, w, finalize)
			}(worker)
		}

		select {
		case worker.records <- rec:
			recordsRouted.Inc()
			summary.Records++
		case <-ctx.Done():
			rec.Release()
			streamErr = ctx.Err()
		}
		if streamErr != nil {
			break
		}
	}

	if streamErr == nil {
		select {
		case err, ok := <-stream.Errors:
			if ok && err != nil {
				streamErr = err
			}
		default:
		}
	}

	// end of stream: close every partition
	for _, worker := range workers {
		close(worker.records)
	}
	wg.Wait()
	close(outcomes)
	collectWg.Wait()

	summary.Partitions = len(workers)

	if err := p.sink.Close(ctx); err != nil {
		return summary, fserrors.Wrap(err, fserrors.ErrorTypeData, "sink close failed")
	}
	if streamErr != nil {
		return summary, fserrors.Wrap(streamErr, fserrors.ErrorTypeData, "source stream failed")
	}

	p.logger.Info("pipeline run complete",
		zap.Uint64("records", summary.Records),
		zap.Int("partitions", summary.Partitions),
		zap.Int("results", summary.Results),
		zap.Int("failed", len(summary.Failed)))

	return summary, nil
}

// runPartition accepts all records for one key and finalizes the partition
// when its channel closes. The finalize semaphore bounds concurrent
// finalizations, the expensive phase.
func (p *Pipeline) runPartition(ctx context.Context, w *partitionWorker, finalize chan struct{}) (outcome partitionOutcome) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		// a panic inside a procedure fails this partition, never its siblings
		for rec := range w.records {
			rec.Release()
		}
		outcome = partitionOutcome{
			key: w.key,
			err: fserrors.Newf(fserrors.ErrorTypeForecast,
				"partition processing panicked: %v", r).WithPartition(w.key),
		}
	}()

	agg, err := p.newAggregator()
	if err != nil {
		// drain so the router never blocks
		for rec := range w.records {
			rec.Release()
		}
		return partitionOutcome{key: w.key, err: err}
	}

	var acceptErr error
	for rec := range w.records {
		if acceptErr == nil {
			// the ack token is a delivery-protocol detail; nothing consumes it here
			_, acceptErr = agg.Accept(rec)
		}
		rec.Release()
	}
	if acceptErr != nil {
		return partitionOutcome{key: w.key, err: acceptErr}
	}

	finalize <- struct{}{}
	defer func() { <-finalize }()

	finalizeCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.Timeouts.Partition > 0 {
		finalizeCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeouts.Partition)
		defer cancel()
	}

	spanCtx, span := p.tracer.Start(finalizeCtx, "partition.forecast",
		trace.WithAttributes(attribute.String("partition", w.key)))
	defer span.End()

	start := time.Now()
	results, err := agg.ClosePartition(spanCtx)
	forecastDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return partitionOutcome{key: w.key, err: err}
	}
	return partitionOutcome{key: w.key, results: results}
}
