package forecast

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/series"
)

func init() {
	_ = Register("panel", NewPanel)
}

// Panel model names; each contributes one forecast column.
const (
	panelModelLinear   = "linreg"
	panelModelRidge    = "ridge"
	panelModelEnsemble = "ensemble"
)

// defaultLags is the lag-feature depth used when the config leaves it unset.
const defaultLags = 8

// Panel is the multi-model regression procedure. Each model is fit on
// lag-transformed features (the previous lags values plus a trend index) and
// forecasts recursively, feeding its own predictions back as lags. The
// emitted prediction carries one column per model: ordinary least squares, a
// ridge fit, and an ensemble averaging ridge fits across regularization
// strengths.
type Panel struct {
	lags int
}

// NewPanel constructs the panel procedure.
func NewPanel(settings Settings) (Procedure, error) {
	lags := settings.Lags
	if lags <= 0 {
		lags = defaultLags
	}
	if settings.SeasonLength > lags {
		// lags must cover a season or the models cannot see seasonality
		lags = settings.SeasonLength
	}
	return &Panel{lags: lags}, nil
}

// Name returns the registered procedure name.
func (p *Panel) Name() string { return "panel" }

// MinObservations requires enough periods beyond the lag depth to keep the
// lag regression determined: the design matrix has n-lags rows against lags+2
// columns, so n must be at least 2*lags+2 or the factorization has more
// unknowns than equations.
func (p *Panel) MinObservations() int { return 2*p.lags + 2 }

// FitAndPredict fits all panel models and predicts horizon periods per model.
func (p *Panel) FitAndPredict(ctx context.Context, s *series.Series, horizon int) (*Prediction, error) {
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
	if err := ctx.Err(); err != nil {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeTimeout, "panel fit canceled")
	}

	X, target := p.designMatrix(y)

	olsBeta, err := fitOLS(X, target)
	if err != nil {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeForecast, "least-squares fit failed")
	}
	ridgeBeta, err := fitRidge(X, target, 1.0)
	if err != nil {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeForecast, "ridge fit failed")
	}
	ensemble := make([]*mat.VecDense, 0, 3)
	for _, lambda := range []float64{0.1, 1.0, 10.0} {
		beta, err := fitRidge(X, target, lambda)
		if err != nil {
			return nil, fserrors.Wrap(err, fserrors.ErrorTypeForecast, "ensemble fit failed")
		}
		ensemble = append(ensemble, beta)
	}

	pred := &Prediction{
		Columns: []string{panelModelLinear, panelModelRidge, panelModelEnsemble},
		Values: map[string][]float64{
			panelModelLinear: p.recursiveForecast(y, horizon, func(feat []float64) float64 {
				return dot(olsBeta, feat)
			}),
			panelModelRidge: p.recursiveForecast(y, horizon, func(feat []float64) float64 {
				return dot(ridgeBeta, feat)
			}),
			panelModelEnsemble: p.recursiveForecast(y, horizon, func(feat []float64) float64 {
				sum := 0.0
				for _, beta := range ensemble {
					sum += dot(beta, feat)
				}
				return sum / float64(len(ensemble))
			}),
		},
	}
	return pred, nil
}

// designMatrix builds rows of [1, y[t-1], ..., y[t-lags], t] predicting y[t].
func (p *Panel) designMatrix(y []float64) (*mat.Dense, *mat.VecDense) {
	n := len(y)
	rows := n - p.lags
	cols := p.lags + 2

	data := make([]float64, 0, rows*cols)
	target := make([]float64, 0, rows)
	for t := p.lags; t < n; t++ {
		data = append(data, 1)
		for l := 1; l <= p.lags; l++ {
			data = append(data, y[t-l])
		}
		data = append(data, float64(t))
		target = append(target, y[t])
	}
	return mat.NewDense(rows, cols, data), mat.NewVecDense(rows, target)
}

// features builds the prediction-time feature vector for step t, where hist
// already includes any recursively predicted values.
func (p *Panel) features(hist []float64, t int) []float64 {
	feat := make([]float64, 0, p.lags+2)
	feat = append(feat, 1)
	for l := 1; l <= p.lags; l++ {
		feat = append(feat, hist[len(hist)-l])
	}
	feat = append(feat, float64(t))
	return feat
}

// recursiveForecast predicts horizon steps, feeding each prediction back into
// the lag window.
func (p *Panel) recursiveForecast(y []float64, horizon int, predict func([]float64) float64) []float64 {
	hist := make([]float64, len(y), len(y)+horizon)
	copy(hist, y)

	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		v := predict(p.features(hist, len(y)+h))
		out[h] = v
		hist = append(hist, v)
	}
	return out
}

// fitOLS solves the least-squares problem via QR decomposition.
func fitOLS(X *mat.Dense, y *mat.VecDense) (*mat.VecDense, error) {
	var qr mat.QR
	qr.Factorize(X)

	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		return nil, err
	}
	return &beta, nil
}

// fitRidge solves (XᵀX + λI)β = Xᵀy in closed form.
func fitRidge(X *mat.Dense, y *mat.VecDense, lambda float64) (*mat.VecDense, error) {
	_, cols := X.Dims()

	var gram mat.Dense
	gram.Mul(X.T(), X)
	for i := 0; i < cols; i++ {
		gram.Set(i, i, gram.At(i, i)+lambda)
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &xty); err != nil {
		return nil, err
	}
	return &beta, nil
}

func dot(beta *mat.VecDense, feat []float64) float64 {
	sum := 0.0
	for i, v := range feat {
		sum += beta.AtVec(i) * v
	}
	return sum
}
