package forecast

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/series"
	"github.com/quartzdata/foresight/pkg/testutil"
)

// dailySeries builds a dense daily series from a value generator.
func dailySeries(n int, value func(t int) float64) *series.Series {
	s := &series.Series{}
	start := testutil.Date(2023, 1, 1)
	for i := 0; i < n; i++ {
		s.Times = append(s.Times, series.Daily.Add(start, i))
		s.Values = append(s.Values, value(i))
	}
	return s
}

func TestRegistry(t *testing.T) {
	names := List()
	assert.Contains(t, names, "seasonal")
	assert.Contains(t, names, "naive")
	assert.Contains(t, names, "panel")

	_, err := New("oracle", Settings{})
	require.Error(t, err)
	assert.True(t, fserrors.IsType(err, fserrors.ErrorTypeConfig))

	err = Register("seasonal", NewSeasonal)
	assert.Error(t, err)
}

func TestFillInterpolates(t *testing.T) {
	nan := math.NaN()
	s := &series.Series{
		Times:  make([]time.Time, 7),
		Values: []float64{nan, 2, nan, nan, 8, nan, nan},
	}
	y, err := fill(s)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 4, 6, 8, 8, 8}, y)
}

func TestFillAllMissing(t *testing.T) {
	s := &series.Series{
		Times:  make([]time.Time, 3),
		Values: []float64{math.NaN(), math.NaN(), math.NaN()},
	}
	_, err := fill(s)
	assert.Error(t, err)
}

func TestSeasonalRequiresSeasonLength(t *testing.T) {
	_, err := NewSeasonal(Settings{SeasonLength: 1})
	assert.Error(t, err)

	p, err := NewSeasonal(Settings{SeasonLength: 7})
	require.NoError(t, err)
	assert.Equal(t, "seasonal", p.Name())
	assert.Equal(t, 14, p.MinObservations())
}

func TestSeasonalPeriodicSignal(t *testing.T) {
	pattern := []float64{10, 12, 15, 20, 25, 18, 11}
	s := dailySeries(35, func(t int) float64 { return pattern[t%7] })

	p, err := New("seasonal", Settings{SeasonLength: 7})
	require.NoError(t, err)

	pred, err := p.FitAndPredict(context.Background(), s, 14)
	require.NoError(t, err)
	require.Equal(t, []string{"forecast"}, pred.Columns)
	values := pred.Values["forecast"]
	require.Len(t, values, 14)

	// a strictly periodic signal is reproduced by the smoothing recursions
	for h, v := range values {
		assert.InDelta(t, pattern[(35+h)%7], v, 1e-6, "horizon %d", h+1)
	}
}

func TestSeasonalInsufficientHistory(t *testing.T) {
	s := dailySeries(10, func(t int) float64 { return float64(t) })

	p, err := New("seasonal", Settings{SeasonLength: 7})
	require.NoError(t, err)

	_, err = p.FitAndPredict(context.Background(), s, 5)
	require.Error(t, err)
	assert.True(t, fserrors.IsType(err, fserrors.ErrorTypeInsufficientHistory))
}

func TestSeasonalRejectsBadHorizon(t *testing.T) {
	s := dailySeries(30, func(t int) float64 { return float64(t) })
	p, err := New("seasonal", Settings{SeasonLength: 7})
	require.NoError(t, err)

	_, err = p.FitAndPredict(context.Background(), s, 0)
	assert.Error(t, err)
}

func TestSeasonalCancellation(t *testing.T) {
	s := dailySeries(30, func(t int) float64 { return float64(t) })
	p, err := New("seasonal", Settings{SeasonLength: 7})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.FitAndPredict(ctx, s, 5)
	require.Error(t, err)
	assert.True(t, fserrors.IsType(err, fserrors.ErrorTypeTimeout))
}

func TestNaiveConstantSeries(t *testing.T) {
	s := dailySeries(20, func(int) float64 { return 42 })

	p, err := New("naive", Settings{SeasonLength: 7})
	require.NoError(t, err)
	assert.Equal(t, 8, p.MinObservations())

	pred, err := p.FitAndPredict(context.Background(), s, 10)
	require.NoError(t, err)
	for _, v := range pred.Values["forecast"] {
		assert.InDelta(t, 42.0, v, 1e-9)
	}
}

func TestNaiveRepeatsSeason(t *testing.T) {
	pattern := []float64{1, 2, 3, 4, 5, 6, 7}
	// 22 points: the ends share a phase, so the drift term vanishes
	s := dailySeries(22, func(t int) float64 { return pattern[t%7] })

	p, err := New("naive", Settings{SeasonLength: 7})
	require.NoError(t, err)

	pred, err := p.FitAndPredict(context.Background(), s, 7)
	require.NoError(t, err)
	for h, v := range pred.Values["forecast"] {
		assert.InDelta(t, pattern[(22+h)%7], v, 1e-9, "horizon %d", h+1)
	}
}

func TestNaiveLinearDrift(t *testing.T) {
	s := dailySeries(15, func(t int) float64 { return float64(t) })

	// season length 1 degrades to last value plus drift
	p, err := New("naive", Settings{SeasonLength: 1})
	require.NoError(t, err)

	pred, err := p.FitAndPredict(context.Background(), s, 5)
	require.NoError(t, err)
	for h, v := range pred.Values["forecast"] {
		assert.InDelta(t, float64(14+h+1), v, 1e-9)
	}
}

// noisyTrend builds a linear-trend generator with seeded noise. The noise
// keeps the lag columns of the design matrix linearly independent.
func noisyTrend(slope, intercept, amplitude float64) func(int) float64 {
	rng := rand.New(rand.NewSource(11))
	return func(t int) float64 {
		return slope*float64(t) + intercept + amplitude*(rng.Float64()-0.5)
	}
}

func TestPanelColumnsAndShape(t *testing.T) {
	s := dailySeries(60, noisyTrend(2, 5, 1))

	p, err := New("panel", Settings{Lags: 8})
	require.NoError(t, err)
	assert.Equal(t, "panel", p.Name())
	assert.Equal(t, 18, p.MinObservations())

	pred, err := p.FitAndPredict(context.Background(), s, 6)
	require.NoError(t, err)
	assert.Equal(t, []string{"linreg", "ridge", "ensemble"}, pred.Columns)
	for _, col := range pred.Columns {
		require.Len(t, pred.Values[col], 6, col)
	}
}

func TestPanelTracksLinearTrend(t *testing.T) {
	s := dailySeries(80, noisyTrend(2, 5, 1))

	p, err := New("panel", Settings{Lags: 8})
	require.NoError(t, err)

	pred, err := p.FitAndPredict(context.Background(), s, 6)
	require.NoError(t, err)

	for h, v := range pred.Values["linreg"] {
		expected := 2*float64(80+h) + 5
		assert.InDelta(t, expected, v, 4.0, "horizon %d", h+1)
	}
	// the ensemble averages ridge fits, which shrink but must stay in range
	for h, v := range pred.Values["ensemble"] {
		expected := 2*float64(80+h) + 5
		assert.InDelta(t, expected, v, 25.0, "horizon %d", h+1)
	}
}

func TestPanelSeasonLengthWidensLags(t *testing.T) {
	proc, err := NewPanel(Settings{Lags: 4, SeasonLength: 12})
	require.NoError(t, err)
	p := proc.(*Panel)
	assert.Equal(t, 12, p.lags)
}

func TestPanelInsufficientHistory(t *testing.T) {
	s := dailySeries(10, func(t int) float64 { return float64(t) })

	p, err := New("panel", Settings{Lags: 8})
	require.NoError(t, err)

	_, err = p.FitAndPredict(context.Background(), s, 3)
	require.Error(t, err)
	assert.True(t, fserrors.IsType(err, fserrors.ErrorTypeInsufficientHistory))
}

// The design matrix has n-lags rows and lags+2 columns, so every count below
// MinObservations must come back as a typed error and the count at the floor
// must fit cleanly. A floor below 2*lags+2 would hand gonum an underdetermined
// factorization, which panics instead of returning an error.
func TestPanelHistoryFloor(t *testing.T) {
	p, err := New("panel", Settings{Lags: 8})
	require.NoError(t, err)

	gen := noisyTrend(2, 5, 1)
	for n := 9; n < p.MinObservations(); n++ {
		_, err := p.FitAndPredict(context.Background(), dailySeries(n, gen), 4)
		require.Error(t, err, "n=%d", n)
		assert.True(t, fserrors.IsType(err, fserrors.ErrorTypeInsufficientHistory), "n=%d", n)
	}

	pred, err := p.FitAndPredict(context.Background(), dailySeries(p.MinObservations(), gen), 4)
	require.NoError(t, err)
	for _, col := range pred.Columns {
		require.Len(t, pred.Values[col], 4, col)
		for h, v := range pred.Values[col] {
			assert.False(t, math.IsNaN(v), "%s horizon %d", col, h+1)
		}
	}
}
