package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/core"
	"github.com/quartzdata/foresight/pkg/forecast"
	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/models"
	"github.com/quartzdata/foresight/pkg/pool"
	"github.com/quartzdata/foresight/pkg/series"
	"github.com/quartzdata/foresight/pkg/testutil"
)

// memSource streams a fixed record slice, optionally ending with an error.
type memSource struct {
	records []*pool.Record
	err     error
	opened  bool
	closed  bool
}

func (s *memSource) Open(context.Context, *config.BaseConfig) error {
	s.opened = true
	return nil
}

func (s *memSource) Read(ctx context.Context) (*core.RecordStream, error) {
	records := make(chan *pool.Record, len(s.records))
	errors := make(chan error, 1)
	for _, rec := range s.records {
		records <- rec
	}
	if s.err != nil {
		errors <- s.err
	}
	close(records)
	close(errors)
	return &core.RecordStream{Records: records, Errors: errors}, nil
}

func (s *memSource) Close(context.Context) error {
	s.closed = true
	return nil
}

// memSink collects written results.
type memSink struct {
	results []*models.Result
	closed  bool
}

func (s *memSink) Open(context.Context, *config.BaseConfig) error { return nil }

func (s *memSink) Write(_ context.Context, results []*models.Result) error {
	s.results = append(s.results, results...)
	return nil
}

func (s *memSink) Close(context.Context) error {
	s.closed = true
	return nil
}

func testConfig() *config.BaseConfig {
	cfg := config.NewBaseConfig("test-run")
	cfg.Window.PartitionKeyColumn = "company"
	cfg.Window.TimestampColumn = "date"
	cfg.Window.ValueColumn = "value"
	cfg.Forecast.Procedure = "naive"
	cfg.Forecast.Horizon = 3
	cfg.Performance.Workers = 2
	cfg.Performance.ChannelBuffer = 16
	return cfg
}

func record(key string, day time.Time, v float64) *pool.Record {
	return pool.NewRecord("test", map[string]interface{}{
		"company": key,
		"date":    day,
		"value":   v,
	})
}

// constantSeries produces n daily records per key, each with a fixed value.
func constantSeries(keys map[string]float64, n int) []*pool.Record {
	start := testutil.Date(2023, 1, 1)
	records := make([]*pool.Record, 0, n*len(keys))
	// interleave keys so partitions arrive mixed, as the router must handle
	for i := 0; i < n; i++ {
		for key, v := range keys {
			records = append(records, record(key, start.AddDate(0, 0, i), v))
		}
	}
	return records
}

func TestRunInterleavedPartitions(t *testing.T) {
	source := &memSource{records: constantSeries(map[string]float64{"acme": 10, "globex": 20}, 20)}
	sink := &memSink{}

	p, err := New(testConfig(), source, sink, testutil.TestLogger(t))
	require.NoError(t, err)

	summary, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, uint64(40), summary.Records)
	assert.Equal(t, 2, summary.Partitions)
	assert.Equal(t, 6, summary.Results)
	assert.Empty(t, summary.Failed)
	assert.True(t, source.closed)
	assert.True(t, sink.closed)

	// each partition's forecast reflects only its own history
	byKey := make(map[string][]*models.Result)
	for _, res := range sink.results {
		byKey[res.PartitionKey] = append(byKey[res.PartitionKey], res)
	}
	require.Len(t, byKey["acme"], 3)
	require.Len(t, byKey["globex"], 3)
	for _, res := range byKey["acme"] {
		assert.InDelta(t, 10.0, res.Value(), 1e-9)
	}
	for _, res := range byKey["globex"] {
		assert.InDelta(t, 20.0, res.Value(), 1e-9)
	}

	// forecast rows cover the consecutive days after the training end
	trainEnd := testutil.Date(2023, 1, 20)
	for _, res := range byKey["acme"] {
		assert.True(t, res.TrainingEnd.Equal(trainEnd))
		assert.True(t, res.Timestamp.After(trainEnd))
	}
}

func TestRunIsolatesFailedPartitions(t *testing.T) {
	records := constantSeries(map[string]float64{"acme": 10, "globex": 20}, 20)
	// a third partition with far too little history
	records = append(records,
		record("initech", testutil.Date(2023, 1, 1), 5),
		record("initech", testutil.Date(2023, 1, 2), 5),
	)

	source := &memSource{records: records}
	sink := &memSink{}
	p, err := New(testConfig(), source, sink, testutil.TestLogger(t))
	require.NoError(t, err)

	summary, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Partitions)
	assert.Equal(t, 6, summary.Results)
	require.Len(t, summary.Failed, 1)
	assert.True(t, fserrors.IsType(summary.Failed["initech"], fserrors.ErrorTypeInsufficientHistory))

	for _, res := range sink.results {
		assert.NotEqual(t, "initech", res.PartitionKey)
	}
}

// volatileProcedure panics when it sees the sentinel value 666, so one
// partition can blow up while its siblings fit normally.
type volatileProcedure struct{}

func (volatileProcedure) Name() string         { return "volatile" }
func (volatileProcedure) MinObservations() int { return 1 }

func (volatileProcedure) FitAndPredict(_ context.Context, s *series.Series, horizon int) (*forecast.Prediction, error) {
	for _, v := range s.Values {
		if v == 666 {
			panic("solver state corrupted")
		}
	}
	values := make([]float64, horizon)
	for i := range values {
		values[i] = s.Values[0]
	}
	return &forecast.Prediction{
		Columns: []string{"forecast"},
		Values:  map[string][]float64{"forecast": values},
	}, nil
}

func init() {
	_ = forecast.Register("volatile", func(forecast.Settings) (forecast.Procedure, error) {
		return volatileProcedure{}, nil
	})
}

func TestRunContainsPanickingProcedure(t *testing.T) {
	cfg := testConfig()
	cfg.Forecast.Procedure = "volatile"

	source := &memSource{records: constantSeries(map[string]float64{"acme": 666, "globex": 20}, 10)}
	sink := &memSink{}
	p, err := New(cfg, source, sink, testutil.TestLogger(t))
	require.NoError(t, err)

	summary, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Partitions)
	require.Len(t, summary.Failed, 1)
	assert.True(t, fserrors.IsType(summary.Failed["acme"], fserrors.ErrorTypeForecast))
	assert.Contains(t, summary.Failed["acme"].Error(), "panicked")

	// the surviving partition still emitted its full horizon
	require.Len(t, sink.results, 3)
	for _, res := range sink.results {
		assert.Equal(t, "globex", res.PartitionKey)
		assert.InDelta(t, 20.0, res.Value(), 1e-9)
	}
}

func TestRunDropsRecordsWithoutKey(t *testing.T) {
	records := constantSeries(map[string]float64{"acme": 10}, 20)
	records = append(records,
		pool.NewRecord("test", map[string]interface{}{"date": testutil.Date(2023, 1, 1), "value": 1.0}),
		pool.NewRecord("test", map[string]interface{}{"company": "", "date": testutil.Date(2023, 1, 1), "value": 1.0}),
	)

	source := &memSource{records: records}
	sink := &memSink{}
	p, err := New(testConfig(), source, sink, testutil.TestLogger(t))
	require.NoError(t, err)

	summary, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), summary.Records)
	assert.Equal(t, 1, summary.Partitions)
}

func TestRunPropagatesSourceError(t *testing.T) {
	source := &memSource{
		records: constantSeries(map[string]float64{"acme": 10}, 20),
		err:     fserrors.New(fserrors.ErrorTypeConnection, "stream interrupted"),
	}
	sink := &memSink{}
	p, err := New(testConfig(), source, sink, testutil.TestLogger(t))
	require.NoError(t, err)

	summary, err := p.Run(testutil.TestContext(t))
	require.Error(t, err)
	// records routed before the error still produced forecasts
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Partitions)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Forecast.Horizon = 0
	_, err := New(cfg, &memSource{}, &memSink{}, testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, fserrors.IsType(err, fserrors.ErrorTypeConfig))

	cfg = testConfig()
	cfg.Window.ResampleFrequency = "fortnightly"
	_, err = New(cfg, &memSource{}, &memSink{}, testutil.TestLogger(t))
	require.Error(t, err)
}

func TestRunUnknownProcedureFailsPartitions(t *testing.T) {
	cfg := testConfig()
	cfg.Forecast.Procedure = "oracle"

	source := &memSource{records: constantSeries(map[string]float64{"acme": 10}, 5)}
	sink := &memSink{}
	p, err := New(cfg, source, sink, testutil.TestLogger(t))
	require.NoError(t, err)

	summary, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Empty(t, sink.results)
	require.Len(t, summary.Failed, 1)
	assert.True(t, fserrors.IsType(summary.Failed["acme"], fserrors.ErrorTypeConfig))
}
