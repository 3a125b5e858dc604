package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics, registered once on the default registerer.
var (
	recordsRouted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "foresight",
		Subsystem: "pipeline",
		Name:      "records_routed_total",
		Help:      "Row records routed to partition aggregators.",
	})

	partitionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "foresight",
		Subsystem: "pipeline",
		Name:      "partitions_opened_total",
		Help:      "Distinct partition keys observed.",
	})

	partitionsForecast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "foresight",
		Subsystem: "pipeline",
		Name:      "partitions_forecast_total",
		Help:      "Partitions successfully forecast.",
	})

	partitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foresight",
		Subsystem: "pipeline",
		Name:      "partition_failures_total",
		Help:      "Partitions that failed, by error type.",
	}, []string{"reason"})

	resultsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "foresight",
		Subsystem: "pipeline",
		Name:      "results_emitted_total",
		Help:      "Forecast result rows written to the sink.",
	})

	forecastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "foresight",
		Subsystem: "pipeline",
		Name:      "partition_forecast_duration_seconds",
		Help:      "Wall time of partition finalization (merge, resample, fit, predict).",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)
