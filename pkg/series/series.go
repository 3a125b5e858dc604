// Package series turns consolidated partition frames into regular time series.
//
// The transformation pipeline is: parse the timestamp and value columns,
// aggregate duplicate timestamps under a configurable policy, restrict to the
// trailing training window, and resample onto a regular calendar grid. Periods
// with no observation stay explicitly missing (NaN); nothing is imputed at
// this layer. The whole pipeline is deterministic in the record set alone, so
// arrival order never influences the result.
package series

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/quartzdata/foresight/pkg/fserrors"
)

// Frequency is the resampling grid frequency.
type Frequency int

const (
	Hourly Frequency = iota
	Daily
	Weekly
	Monthly
)

// ParseFrequency parses a frequency name.
func ParseFrequency(s string) (Frequency, error) {
	switch s {
	case "hourly":
		return Hourly, nil
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	default:
		return 0, fserrors.Newf(fserrors.ErrorTypeConfig, "unknown resample frequency %q", s)
	}
}

// String returns the frequency name.
func (f Frequency) String() string {
	switch f {
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return "unknown"
	}
}

// Truncate snaps a timestamp to the start of its grid period, in UTC.
// Weekly periods start on Monday.
func (f Frequency) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch f {
	case Hourly:
		return t.Truncate(time.Hour)
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Weekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Add advances a timestamp by n grid periods. Negative n steps backwards.
func (f Frequency) Add(t time.Time, n int) time.Time {
	switch f {
	case Hourly:
		return t.Add(time.Duration(n) * time.Hour)
	case Daily:
		return t.AddDate(0, 0, n)
	case Weekly:
		return t.AddDate(0, 0, 7*n)
	case Monthly:
		return t.AddDate(0, n, 0)
	default:
		return t
	}
}

// DefaultSeasonLength returns the conventional season length for the
// frequency: 24 hours, 7 days, 52 weeks, 12 months.
func (f Frequency) DefaultSeasonLength() int {
	switch f {
	case Hourly:
		return 24
	case Daily:
		return 7
	case Weekly:
		return 52
	case Monthly:
		return 12
	default:
		return 1
	}
}

// Point is one (timestamp, value) observation.
type Point struct {
	T time.Time
	V float64
}

// Series is a regular-grid time series. Values[i] is the observation for the
// period starting at Times[i]; missing periods hold NaN.
type Series struct {
	Times  []time.Time
	Values []float64
}

// Len returns the number of grid periods.
func (s *Series) Len() int {
	return len(s.Times)
}

// Observed returns the number of non-missing periods.
func (s *Series) Observed() int {
	n := 0
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Start returns the first grid period, or the zero time for an empty series.
func (s *Series) Start() time.Time {
	if len(s.Times) == 0 {
		return time.Time{}
	}
	return s.Times[0]
}

// End returns the last grid period, or the zero time for an empty series.
func (s *Series) End() time.Time {
	if len(s.Times) == 0 {
		return time.Time{}
	}
	return s.Times[len(s.Times)-1]
}

// AggregateFunc combines the values observed at one timestamp or grid period.
type AggregateFunc func([]float64) (float64, error)

// DuplicateAggregator maps a duplicate-timestamp policy name to its function.
// Summation matches the upstream system's behavior; for mean-style series
// (e.g. sentiment averages) configure "mean" instead.
func DuplicateAggregator(policy string) (AggregateFunc, error) {
	switch policy {
	case "sum":
		return func(vs []float64) (float64, error) { return stats.Sum(vs) }, nil
	case "mean":
		return func(vs []float64) (float64, error) { return stats.Mean(vs) }, nil
	case "min":
		return func(vs []float64) (float64, error) { return stats.Min(vs) }, nil
	case "max":
		return func(vs []float64) (float64, error) { return stats.Max(vs) }, nil
	default:
		return nil, fserrors.Newf(fserrors.ErrorTypeConfig, "unknown duplicate policy %q", policy)
	}
}

// ParseTimestamp converts a scalar column value to a UTC timestamp. Strings
// are tried against the date and datetime layouts warehouse exports use;
// numbers are epoch seconds.
func ParseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02",
			"2006-01-02T15:04:05",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fserrors.Newf(fserrors.ErrorTypeData, "unparseable timestamp %q", t)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case int:
		return time.Unix(int64(t), 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case nil:
		return time.Time{}, fserrors.New(fserrors.ErrorTypeData, "nil timestamp")
	default:
		return time.Time{}, fserrors.Newf(fserrors.ErrorTypeData, "unsupported timestamp type %T", v)
	}
}

// ParseValue converts a scalar column value to a float64.
func ParseValue(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		parsed, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fserrors.Newf(fserrors.ErrorTypeData, "unparseable value %q", x)
		}
		return parsed, nil
	case nil:
		return 0, fserrors.New(fserrors.ErrorTypeData, "nil value")
	default:
		return 0, fserrors.Newf(fserrors.ErrorTypeData, "unsupported value type %T", v)
	}
}

// FromColumns parses parallel timestamp and value columns into points.
func FromColumns(times, values []interface{}) ([]Point, error) {
	if len(times) != len(values) {
		return nil, fserrors.Newf(fserrors.ErrorTypeData,
			"timestamp column has %d rows, value column has %d", len(times), len(values))
	}
	points := make([]Point, 0, len(times))
	for i := range times {
		t, err := ParseTimestamp(times[i])
		if err != nil {
			return nil, err
		}
		v, err := ParseValue(values[i])
		if err != nil {
			return nil, err
		}
		points = append(points, Point{T: t, V: v})
	}
	return points, nil
}

// Dedup sorts points by timestamp and aggregates values sharing an identical
// timestamp under the given policy. The result is strictly increasing in time
// regardless of input order.
func Dedup(points []Point, agg AggregateFunc) ([]Point, error) {
	if len(points) == 0 {
		return nil, nil
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].T.Before(sorted[j].T) })

	out := make([]Point, 0, len(sorted))
	group := []float64{sorted[0].V}
	current := sorted[0].T
	flush := func() error {
		v, err := agg(group)
		if err != nil {
			return fserrors.Wrap(err, fserrors.ErrorTypeData, "duplicate aggregation failed")
		}
		out = append(out, Point{T: current, V: v})
		return nil
	}

	for _, p := range sorted[1:] {
		if p.T.Equal(current) {
			group = append(group, p.V)
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		current = p.T
		group = group[:0]
		group = append(group, p.V)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// Window restricts points to the trailing training window: the end is the
// maximum timestamp, the start is length periods before it, and points
// outside [start, end] are dropped. Points must already be deduplicated.
func Window(points []Point, length int, freq Frequency) (start, end time.Time, out []Point) {
	if len(points) == 0 {
		return time.Time{}, time.Time{}, nil
	}

	end = points[0].T
	for _, p := range points[1:] {
		if p.T.After(end) {
			end = p.T
		}
	}
	start = freq.Add(end, -length)

	out = make([]Point, 0, len(points))
	for _, p := range points {
		if p.T.Before(start) || p.T.After(end) {
			continue
		}
		out = append(out, p)
	}
	return start, end, out
}

// Resample maps points onto the regular grid at the given frequency. The grid
// spans the observed range only: it runs from the period of the earliest point
// to the period of the latest, so a training window that opens before the
// first observation contributes no leading periods. Within that span each
// point lands in the period containing it; multiple points in one period are
// combined with agg; periods with no observation hold NaN.
func Resample(points []Point, freq Frequency, agg AggregateFunc) (*Series, error) {
	if len(points) == 0 {
		return &Series{}, nil
	}

	buckets := make(map[time.Time][]float64)
	first := freq.Truncate(points[0].T)
	last := first
	for _, p := range points {
		period := freq.Truncate(p.T)
		buckets[period] = append(buckets[period], p.V)
		if period.Before(first) {
			first = period
		}
		if period.After(last) {
			last = period
		}
	}

	s := &Series{}
	for t := first; !t.After(last); t = freq.Add(t, 1) {
		s.Times = append(s.Times, t)
		vs, ok := buckets[t]
		if !ok {
			s.Values = append(s.Values, math.NaN())
			continue
		}
		v, err := agg(vs)
		if err != nil {
			return nil, fserrors.Wrap(err, fserrors.ErrorTypeData, "resample aggregation failed")
		}
		s.Values = append(s.Values, v)
	}
	return s, nil
}
