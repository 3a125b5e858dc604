// Package aggregator implements the partitioned streaming forecast
// aggregator: the component that consumes an unbounded, partition-grouped
// stream of row records with bounded memory and, at the close of each
// partition, produces a deterministic forecast by delegating to a pluggable
// forecasting procedure.
//
// Buffering follows a two-threshold scheme. Incoming rows accumulate in a
// current batch; at the flush threshold the batch is sealed into a columnar
// batch frame; at the merge threshold all sealed frames are merged into one.
// Merging too eagerly wastes CPU, merging too rarely risks unbounded row-list
// growth; the two thresholds bound both.
//
// An instance is strictly sequential: Accept calls never overlap each other
// or ClosePartition. Instances are reused across partitions; ClosePartition
// ends with an explicit reset that rearms the instance for the next key.
package aggregator

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/forecast"
	"github.com/quartzdata/foresight/pkg/frame"
	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/models"
	"github.com/quartzdata/foresight/pkg/pool"
	"github.com/quartzdata/foresight/pkg/series"
)

// State is the aggregator's lifecycle state. There is no terminal state: the
// instance is rearmed after emission because the host reuses instances across
// partitions.
type State string

const (
	StateAccumulating State = "accumulating"
	StateMerging      State = "merging"
	StateFinalizing   State = "finalizing"
	StateForecasting  State = "forecasting"
	StateEmitting     State = "emitting"
)

// Ack is the per-call acknowledgement token returned by Accept. It exists to
// satisfy streaming delivery protocols that require an output per input row;
// it carries no forecast data.
type Ack struct {
	Seq uint64
}

// Options configures one aggregator instance.
type Options struct {
	// BatchFlushThreshold seals the current batch into a frame at this row count
	BatchFlushThreshold int
	// BatchMergeThreshold merges all sealed frames into one at this frame count
	BatchMergeThreshold int
	// PartitionKeyColumn, TimestampColumn, ValueColumn bind the row schema
	PartitionKeyColumn string
	TimestampColumn    string
	ValueColumn        string
	// TrainingWindowLength is the trailing window, in periods
	TrainingWindowLength int
	// Frequency is the resampling grid
	Frequency series.Frequency
	// Horizon is the number of future periods to forecast
	Horizon int
	// Aggregate combines values at duplicate timestamps
	Aggregate series.AggregateFunc
	// RetryTransient enables a single retry of retryable procedure failures
	RetryTransient bool
}

// OptionsFromConfig derives aggregator options from the unified config.
func OptionsFromConfig(cfg *config.BaseConfig) (Options, error) {
	freq, err := series.ParseFrequency(cfg.Window.ResampleFrequency)
	if err != nil {
		return Options{}, err
	}
	agg, err := series.DuplicateAggregator(cfg.Aggregation.DuplicatePolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		BatchFlushThreshold:  cfg.Aggregation.BatchFlushThreshold,
		BatchMergeThreshold:  cfg.Aggregation.BatchMergeThreshold,
		PartitionKeyColumn:   cfg.Window.PartitionKeyColumn,
		TimestampColumn:      cfg.Window.TimestampColumn,
		ValueColumn:          cfg.Window.ValueColumn,
		TrainingWindowLength: cfg.Window.TrainingWindowLength,
		Frequency:            freq,
		Horizon:              cfg.Forecast.Horizon,
		Aggregate:            agg,
		RetryTransient:       cfg.Forecast.RetryTransient,
	}, nil
}

// Stats exposes instance counters for monitoring and tests.
type Stats struct {
	Accepted     uint64
	Seals        uint64
	Merges       uint64
	BufferedRows int
	SealedFrames int
}

// Aggregator buffers one partition at a time and forecasts it at close.
// Not safe for concurrent use; the host guarantees sequential access.
type Aggregator struct {
	opts   Options
	proc   forecast.Procedure
	logger *zap.Logger
	mem    *MemoryWatch

	key     string
	current []map[string]interface{}
	sealed  []*frame.Frame
	state   State

	seq      uint64
	accepted uint64
	seals    uint64
	merges   uint64
}

// New creates an aggregator with the given options and forecasting procedure.
func New(opts Options, proc forecast.Procedure, logger *zap.Logger) (*Aggregator, error) {
	if opts.BatchFlushThreshold <= 0 || opts.BatchMergeThreshold <= 1 {
		return nil, fserrors.Newf(fserrors.ErrorTypeConfig,
			"invalid batching thresholds: flush=%d merge=%d", opts.BatchFlushThreshold, opts.BatchMergeThreshold)
	}
	if opts.Aggregate == nil {
		return nil, fserrors.New(fserrors.ErrorTypeConfig, "duplicate aggregate function is required")
	}
	if proc == nil {
		return nil, fserrors.New(fserrors.ErrorTypeConfig, "forecasting procedure is required")
	}
	return &Aggregator{
		opts:    opts,
		proc:    proc,
		logger:  logger.With(zap.String("component", "aggregator")),
		state:   StateAccumulating,
		current: make([]map[string]interface{}, 0, opts.BatchFlushThreshold),
	}, nil
}

// WithMemoryWatch attaches a process-memory watermark check, sampled at seal
// and merge points. Memory is the only managed resource of this component.
func (a *Aggregator) WithMemoryWatch(mem *MemoryWatch) *Aggregator {
	a.mem = mem
	return a
}

// State returns the current lifecycle state.
func (a *Aggregator) State() State { return a.state }

// Key returns the partition key currently open on this instance, empty when
// no record has arrived since the last reset.
func (a *Aggregator) Key() string { return a.key }

// Stats returns instance counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Accepted:     a.accepted,
		Seals:        a.seals,
		Merges:       a.merges,
		BufferedRows: len(a.current),
		SealedFrames: len(a.sealed),
	}
}

// Accept appends one row record to the partition buffer and returns an
// acknowledgement token. The record's data is copied; the caller may release
// the record as soon as Accept returns.
//
// The first record after a reset binds the partition key; subsequent records
// must carry the same key, since the host routes all records for one key to
// one instance.
func (a *Aggregator) Accept(rec *pool.Record) (Ack, error) {
	if a.state != StateAccumulating {
		return Ack{}, fserrors.Newf(fserrors.ErrorTypeValidation,
			"accept called in state %s", a.state)
	}

	key, err := a.partitionKeyOf(rec)
	if err != nil {
		return Ack{}, err
	}
	if a.key == "" {
		a.key = key
	} else if key != a.key {
		return Ack{}, fserrors.Newf(fserrors.ErrorTypeValidation,
			"record for partition %q delivered to instance holding %q", key, a.key).
			WithPartition(a.key)
	}

	a.current = append(a.current, rec.Clone())
	a.accepted++

	if len(a.current) >= a.opts.BatchFlushThreshold {
		a.sealCurrent()
		if len(a.sealed) >= a.opts.BatchMergeThreshold {
			if err := a.mergeSealed(); err != nil {
				return Ack{}, err
			}
		}
	}

	return Ack{Seq: atomic.AddUint64(&a.seq, 1)}, nil
}

// partitionKeyOf extracts the partition key column as a string.
func (a *Aggregator) partitionKeyOf(rec *pool.Record) (string, error) {
	v, ok := rec.GetData(a.opts.PartitionKeyColumn)
	if !ok {
		return "", fserrors.Newf(fserrors.ErrorTypeData,
			"record missing partition key column %q", a.opts.PartitionKeyColumn)
	}
	key, ok := v.(string)
	if !ok || key == "" {
		return "", fserrors.Newf(fserrors.ErrorTypeData,
			"partition key column %q is not a non-empty string: %v", a.opts.PartitionKeyColumn, v)
	}
	return key, nil
}

// sealCurrent seals the current batch into a batch frame and clears it.
func (a *Aggregator) sealCurrent() {
	if len(a.current) == 0 {
		return
	}
	a.sealed = append(a.sealed, frame.FromRows(a.current))
	a.current = a.current[:0]
	a.seals++
	if a.mem != nil {
		a.mem.Check(a.logger, a.key)
	}
}

// mergeSealed collapses all sealed frames into a single frame.
func (a *Aggregator) mergeSealed() error {
	prev := a.state
	a.state = StateMerging
	defer func() { a.state = prev }()

	merged, err := frame.Merge(a.sealed...)
	if err != nil {
		return fserrors.Wrap(err, fserrors.ErrorTypeMergeInconsistency, "batch frame merge failed").
			WithPartition(a.key)
	}
	a.sealed = a.sealed[:0]
	a.sealed = append(a.sealed, merged)
	a.merges++
	if a.mem != nil {
		a.mem.Check(a.logger, a.key)
	}
	return nil
}

// ClosePartition finalizes the open partition: it consolidates all buffered
// rows, projects and regularizes the series, invokes the forecasting
// procedure, and emits one result per forecast period. The instance is reset
// afterwards regardless of outcome, so a failed partition never poisons the
// next one.
func (a *Aggregator) ClosePartition(ctx context.Context) ([]*models.Result, error) {
	key := a.key
	defer a.reset()

	a.state = StateFinalizing
	a.sealCurrent()
	consolidated, err := frame.Merge(a.sealed...)
	if err != nil {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeMergeInconsistency, "consolidation failed").
			WithPartition(key)
	}

	s, trainStart, trainEnd, err := a.regularize(consolidated, key)
	if err != nil {
		return nil, err
	}

	if observed := s.Observed(); observed < a.proc.MinObservations() {
		return nil, fserrors.NewInsufficientHistory(key, observed, a.proc.MinObservations())
	}

	a.state = StateForecasting
	prediction, err := a.invoke(ctx, s, key)
	if err != nil {
		return nil, err
	}

	a.state = StateEmitting
	results := make([]*models.Result, 0, a.opts.Horizon)
	for h := 1; h <= a.opts.Horizon; h++ {
		values := make(map[string]float64, len(prediction.Columns))
		for _, col := range prediction.Columns {
			values[col] = prediction.Values[col][h-1]
		}
		results = append(results, &models.Result{
			PartitionKey:  key,
			Timestamp:     a.opts.Frequency.Add(trainEnd, h),
			Columns:       prediction.Columns,
			Values:        values,
			TrainingStart: trainStart,
			TrainingEnd:   trainEnd,
			Horizon:       a.opts.Horizon,
		})
	}

	a.logger.Info("partition forecast emitted",
		zap.String("partition", key),
		zap.Int("rows", consolidated.NumRows()),
		zap.Int("horizon", a.opts.Horizon),
		zap.Time("training_start", trainStart),
		zap.Time("training_end", trainEnd))

	return results, nil
}

// regularize projects the consolidated frame to (timestamp, value), dedups,
// windows, and resamples onto the regular grid.
func (a *Aggregator) regularize(consolidated *frame.Frame, key string) (*series.Series, time.Time, time.Time, error) {
	if consolidated.NumRows() == 0 {
		return nil, time.Time{}, time.Time{}, fserrors.NewInsufficientHistory(key, 0, a.proc.MinObservations())
	}

	times, ok := consolidated.Column(a.opts.TimestampColumn)
	if !ok {
		return nil, time.Time{}, time.Time{}, fserrors.Newf(fserrors.ErrorTypeData,
			"timestamp column %q not found", a.opts.TimestampColumn).WithPartition(key)
	}
	values, ok := consolidated.Column(a.opts.ValueColumn)
	if !ok {
		return nil, time.Time{}, time.Time{}, fserrors.Newf(fserrors.ErrorTypeData,
			"value column %q not found", a.opts.ValueColumn).WithPartition(key)
	}

	points, err := series.FromColumns(times, values)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fserrors.Wrap(err, fserrors.ErrorTypeData, "column parse failed").
			WithPartition(key)
	}
	points, err = series.Dedup(points, a.opts.Aggregate)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fserrors.Wrap(err, fserrors.ErrorTypeData, "deduplication failed").
			WithPartition(key)
	}

	trainStart, trainEnd, windowed := series.Window(points, a.opts.TrainingWindowLength, a.opts.Frequency)
	s, err := series.Resample(windowed, a.opts.Frequency, a.opts.Aggregate)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fserrors.Wrap(err, fserrors.ErrorTypeData, "resampling failed").
			WithPartition(key)
	}
	return s, trainStart, trainEnd, nil
}

// invoke runs the forecasting procedure, retrying once on transient failures
// when configured. Insufficient history is never retried.
func (a *Aggregator) invoke(ctx context.Context, s *series.Series, key string) (*forecast.Prediction, error) {
	prediction, err := a.proc.FitAndPredict(ctx, s, a.opts.Horizon)
	if err == nil {
		return a.validatePrediction(prediction, key)
	}
	if fserrors.IsType(err, fserrors.ErrorTypeInsufficientHistory) {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeInsufficientHistory, "procedure rejected series").
			WithPartition(key)
	}

	wrapped := fserrors.WrapForecast(err, key, a.proc.Name())
	if !a.opts.RetryTransient || !fserrors.IsRetryable(wrapped) {
		return nil, wrapped
	}

	a.logger.Warn("retrying transient forecast failure",
		zap.String("partition", key), zap.Error(err))
	prediction, err = a.proc.FitAndPredict(ctx, s, a.opts.Horizon)
	if err != nil {
		return nil, fserrors.WrapForecast(err, key, a.proc.Name())
	}
	return a.validatePrediction(prediction, key)
}

// validatePrediction enforces the procedure contract: every column holds
// exactly horizon values.
func (a *Aggregator) validatePrediction(p *forecast.Prediction, key string) (*forecast.Prediction, error) {
	if p == nil || len(p.Columns) == 0 {
		return nil, fserrors.New(fserrors.ErrorTypeForecast, "procedure returned no columns").
			WithPartition(key)
	}
	for _, col := range p.Columns {
		if len(p.Values[col]) != a.opts.Horizon {
			return nil, fserrors.Newf(fserrors.ErrorTypeForecast,
				"procedure returned %d values for column %s, want %d",
				len(p.Values[col]), col, a.opts.Horizon).WithPartition(key)
		}
	}
	return p, nil
}

// reset clears all buffers and rearms the instance for the next partition.
func (a *Aggregator) reset() {
	a.key = ""
	a.current = a.current[:0]
	a.sealed = nil
	a.state = StateAccumulating
	atomic.StoreUint64(&a.seq, 0)
}
