// Package forecast defines the pluggable forecasting procedure and its
// concrete variants.
//
// A Procedure exposes exactly one capability: fit a model on a regular-grid
// series and predict a fixed number of future periods. The aggregator is
// agnostic to which variant is plugged in; only the output column shape
// differs (single-model procedures emit one column, the panel procedure emits
// one column per model). Variants are selected by registered name through
// configuration, never by inheritance.
package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/series"
)

// Settings tunes a procedure at construction time.
type Settings struct {
	// SeasonLength is the number of periods per season. The aggregator derives
	// it from the resample frequency when the config leaves it at zero.
	SeasonLength int
	// Lags is the lag-feature depth for regression procedures; zero picks a
	// procedure default.
	Lags int
}

// Prediction holds the forecast columns produced by one procedure invocation.
// Every column has exactly horizon values in period order.
type Prediction struct {
	Columns []string
	Values  map[string][]float64
}

// Procedure is the pluggable forecasting capability.
type Procedure interface {
	// Name returns the registered procedure name
	Name() string
	// MinObservations returns the minimum number of observed (non-missing)
	// periods the procedure needs to fit
	MinObservations() int
	// FitAndPredict fits on the series and returns exactly horizon values per
	// column
	FitAndPredict(ctx context.Context, s *series.Series, horizon int) (*Prediction, error)
}

// Factory constructs a procedure from settings.
type Factory func(Settings) (Procedure, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register registers a procedure factory under a name. Called from init()
// functions of the variant files.
func Register(name string, factory Factory) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		return fserrors.Newf(fserrors.ErrorTypeConfig, "forecast procedure %s already registered", name)
	}
	registry[name] = factory
	return nil
}

// New constructs the named procedure.
func New(name string, settings Settings) (Procedure, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fserrors.Newf(fserrors.ErrorTypeConfig,
			"forecast procedure %s not registered (available: %v)", name, List())
	}
	return factory(settings)
}

// List returns the registered procedure names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fill replaces missing periods with linearly interpolated values so models
// that cannot tolerate gaps can fit. Leading and trailing gaps take the
// nearest observed value. Returns an error when nothing is observed.
func fill(s *series.Series) ([]float64, error) {
	n := s.Len()
	out := make([]float64, n)
	copy(out, s.Values)

	prev := -1
	for i := 0; i < n; i++ {
		if math.IsNaN(out[i]) {
			continue
		}
		if prev == -1 {
			// backfill the leading gap
			for j := 0; j < i; j++ {
				out[j] = out[i]
			}
		} else if i-prev > 1 {
			step := (out[i] - out[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				out[j] = out[prev] + step*float64(j-prev)
			}
		}
		prev = i
	}
	if prev == -1 {
		return nil, fserrors.New(fserrors.ErrorTypeData, "series has no observed values")
	}
	// forward-fill the trailing gap
	for j := prev + 1; j < n; j++ {
		out[j] = out[prev]
	}
	return out, nil
}

// singleColumn wraps one forecast vector in the standard prediction shape.
func singleColumn(values []float64) *Prediction {
	return &Prediction{
		Columns: []string{"forecast"},
		Values:  map[string][]float64{"forecast": values},
	}
}

// checkHorizon validates the requested horizon.
func checkHorizon(horizon int) error {
	if horizon <= 0 {
		return fserrors.New(fserrors.ErrorTypeValidation, fmt.Sprintf("horizon must be positive, got %d", horizon))
	}
	return nil
}
