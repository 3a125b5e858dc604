package forecast

import (
	"context"

	"github.com/montanaflynn/stats"

	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/series"
)

func init() {
	_ = Register("seasonal", NewSeasonal)
	_ = Register("naive", NewNaive)
}

// Seasonal is the univariate seasonal procedure: additive triple exponential
// smoothing with the smoothing parameters selected by grid search over
// one-step-ahead squared error. The season length is auto-derived from the
// resample frequency unless overridden.
type Seasonal struct {
	seasonLength int
}

// NewSeasonal constructs the seasonal procedure.
func NewSeasonal(settings Settings) (Procedure, error) {
	m := settings.SeasonLength
	if m < 2 {
		return nil, fserrors.Newf(fserrors.ErrorTypeConfig,
			"seasonal procedure needs a season length of at least 2, got %d", m)
	}
	return &Seasonal{seasonLength: m}, nil
}

// Name returns the registered procedure name.
func (p *Seasonal) Name() string { return "seasonal" }

// MinObservations requires two full seasons, the conventional floor for
// estimating initial level, trend, and seasonal components.
func (p *Seasonal) MinObservations() int { return 2 * p.seasonLength }

// FitAndPredict fits the smoothing model and predicts horizon periods.
func (p *Seasonal) FitAndPredict(ctx context.Context, s *series.Series, horizon int) (*Prediction, error) {
	if err := checkHorizon(horizon); err != nil {
		return nil, err
	}
	if s.Observed() < p.MinObservations() {
		return nil, fserrors.NewInsufficientHistory("", s.Observed(), p.MinObservations())
	}

	y, err := fill(s)
	if err != nil {
		return nil, err
	}

	grid := []float64{0.05, 0.2, 0.4, 0.6, 0.8}
	best := smoothingFit{sse: -1}
	for _, alpha := range grid {
		for _, beta := range grid {
			for _, gamma := range grid {
				if err := ctx.Err(); err != nil {
					return nil, fserrors.Wrap(err, fserrors.ErrorTypeTimeout, "seasonal fit canceled")
				}
				fit := p.smooth(y, alpha, beta, gamma)
				if best.sse < 0 || fit.sse < best.sse {
					best = fit
				}
			}
		}
	}

	out := make([]float64, horizon)
	m := p.seasonLength
	n := len(y)
	for h := 1; h <= horizon; h++ {
		out[h-1] = best.level + float64(h)*best.trend + best.seasonal[(n+h-1)%m]
	}
	return singleColumn(out), nil
}

type smoothingFit struct {
	level    float64
	trend    float64
	seasonal []float64
	sse      float64
}

// smooth runs one additive Holt-Winters pass and accumulates the one-step
// squared error used for parameter selection.
func (p *Seasonal) smooth(y []float64, alpha, beta, gamma float64) smoothingFit {
	m := p.seasonLength
	n := len(y)

	firstMean, _ := stats.Mean(y[:m])
	secondMean, _ := stats.Mean(y[m : 2*m])

	level := firstMean
	trend := (secondMean - firstMean) / float64(m)
	seasonal := make([]float64, m)
	for i := 0; i < m; i++ {
		seasonal[i] = y[i] - firstMean
	}

	sse := 0.0
	for t := 0; t < n; t++ {
		idx := t % m
		predicted := level + trend + seasonal[idx]
		residual := y[t] - predicted
		sse += residual * residual

		newLevel := alpha*(y[t]-seasonal[idx]) + (1-alpha)*(level+trend)
		trend = beta*(newLevel-level) + (1-beta)*trend
		seasonal[idx] = gamma*(y[t]-newLevel) + (1-gamma)*seasonal[idx]
		level = newLevel
	}

	return smoothingFit{level: level, trend: trend, seasonal: seasonal, sse: sse}
}

// Naive is the seasonal-naive baseline: each future period repeats the value
// of the same period one season earlier, adjusted by the mean drift of the
// training window. Useful as a sanity baseline and in tests.
type Naive struct {
	seasonLength int
}

// NewNaive constructs the naive procedure. A season length below 2 degrades
// to last-value-plus-drift.
func NewNaive(settings Settings) (Procedure, error) {
	m := settings.SeasonLength
	if m < 1 {
		m = 1
	}
	return &Naive{seasonLength: m}, nil
}

// Name returns the registered procedure name.
func (p *Naive) Name() string { return "naive" }

// MinObservations requires one season plus one period to estimate drift.
func (p *Naive) MinObservations() int { return p.seasonLength + 1 }

// FitAndPredict repeats the last season with drift.
func (p *Naive) FitAndPredict(_ context.Context, s *series.Series, horizon int) (*Prediction, error) {
	if err := checkHorizon(horizon); err != nil {
		return nil, err
	}
	if s.Observed() < p.MinObservations() {
		return nil, fserrors.NewInsufficientHistory("", s.Observed(), p.MinObservations())
	}

	y, err := fill(s)
	if err != nil {
		return nil, err
	}

	n := len(y)
	m := p.seasonLength
	drift := (y[n-1] - y[0]) / float64(n-1)

	out := make([]float64, horizon)
	for h := 1; h <= horizon; h++ {
		out[h-1] = y[n-m+((h-1)%m)] + drift*float64(h)
	}
	return singleColumn(out), nil
}
