// Package models provides the data models shared between the aggregator,
// the pipeline orchestrator, and the result sinks.
package models

import (
	"time"
)

// DefaultForecastColumn is the value column name emitted by single-model
// forecasting procedures.
const DefaultForecastColumn = "forecast"

// Result is one forecast row for one future period of one partition. Results
// are emitted once at partition close and never mutated afterwards.
//
// Single-model procedures populate exactly one value column ("forecast");
// panel procedures populate one column per model.
type Result struct {
	// PartitionKey identifies the partition this forecast belongs to
	PartitionKey string `json:"partition_key"`
	// Timestamp is the end of the forecast period
	Timestamp time.Time `json:"timestamp"`
	// Columns lists the value column names in deterministic output order
	Columns []string `json:"columns"`
	// Values maps value column name to predicted value
	Values map[string]float64 `json:"values"`
	// TrainingStart is the start of the training window the model was fit on
	TrainingStart time.Time `json:"training_start"`
	// TrainingEnd is the end of the training window
	TrainingEnd time.Time `json:"training_end"`
	// Horizon is the total number of future periods requested
	Horizon int `json:"forecast_horizon"`
}

// Value returns the single forecast value for single-model results. For panel
// results it returns the first column's value.
func (r *Result) Value() float64 {
	if len(r.Columns) == 0 {
		return 0
	}
	return r.Values[r.Columns[0]]
}
