// Package foresight provides a partitioned streaming forecast engine: it
// consumes partition-grouped row streams from warehouse, file, or broker
// sources with bounded memory, and at the close of each partition fits a
// pluggable time-series model and emits fixed-schema forecast rows.
//
// # Architecture
//
// Rows flow through four stages:
//
//  1. A Source connector (pkg/connector/sources) streams row records.
//  2. The pipeline orchestrator (internal/pipeline) routes records by
//     partition key to per-key aggregator instances.
//  3. Each aggregator (internal/aggregator) buffers its partition under a
//     two-threshold batching scheme, and at end of stream consolidates,
//     resamples, and forecasts it via a registered procedure (pkg/forecast).
//  4. A ResultSink connector (pkg/connector/sinks) receives the forecast rows.
//
// Partitions are fully isolated: a failure in one partition's forecast is
// reported and counted without affecting siblings.
//
// # Quick Start
//
// Forecast monthly sales per company from a CSV export:
//
//	cfg := config.NewBaseConfig("sales-forecast")
//	cfg.Source = config.ConnectorConfig{Type: "csv", Options: map[string]interface{}{"path": "sales.csv"}}
//	cfg.Sink = config.ConnectorConfig{Type: "stdout"}
//	cfg.Window.PartitionKeyColumn = "company"
//	cfg.Window.TimestampColumn = "month"
//	cfg.Window.ValueColumn = "sales"
//	cfg.Window.ResampleFrequency = "monthly"
//	cfg.Forecast.Procedure = "seasonal"
//	cfg.Forecast.Horizon = 12
//
//	source, _ := registry.CreateSource(cfg)
//	sink, _ := registry.CreateSink(cfg)
//	p, _ := pipeline.New(cfg, source, sink, logger.Get())
//	summary, err := p.Run(ctx)
//
// The foresight CLI (cmd/foresight) wraps the same flow behind a YAML
// configuration file.
package foresight
