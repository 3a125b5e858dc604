// Package snowflake provides a warehouse row source backed by Snowflake.
// It runs a single projection query (partition key, timestamp, value columns)
// and streams the result set as records.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"

	sf "github.com/snowflakedb/gosnowflake"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/core"
	"github.com/quartzdata/foresight/pkg/connector/registry"
	"github.com/quartzdata/foresight/pkg/fserrors"
	"github.com/quartzdata/foresight/pkg/pool"
)

func init() {
	_ = registry.RegisterSource("snowflake", NewSource)
}

// Source streams rows from a Snowflake table or query. Recognized options:
// "account", "user", "password", "database", "schema", "warehouse", "role",
// and either "table" or "query". Credentials are normally supplied through
// ${VAR} config substitution.
type Source struct {
	dsn    string
	query  string
	buffer int
	db     *sql.DB
}

// NewSource creates a Snowflake source from configuration.
func NewSource(cfg *config.BaseConfig) (core.Source, error) {
	sfCfg := &sf.Config{
		Account:   cfg.Source.Option("account", ""),
		User:      cfg.Source.Option("user", ""),
		Password:  cfg.Source.Option("password", ""),
		Database:  cfg.Source.Option("database", ""),
		Schema:    cfg.Source.Option("schema", "PUBLIC"),
		Warehouse: cfg.Source.Option("warehouse", ""),
		Role:      cfg.Source.Option("role", ""),
	}
	if sfCfg.Account == "" || sfCfg.User == "" {
		return nil, fserrors.New(fserrors.ErrorTypeConfig, "snowflake source requires account and user options")
	}

	dsn, err := sf.DSN(sfCfg)
	if err != nil {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeConfig, "failed to build snowflake DSN")
	}

	query := cfg.Source.Option("query", "")
	if query == "" {
		table := cfg.Source.Option("table", "")
		if table == "" {
			return nil, fserrors.New(fserrors.ErrorTypeConfig, "snowflake source requires a table or query option")
		}
		query = fmt.Sprintf("SELECT %s, %s, %s FROM %s",
			cfg.Window.PartitionKeyColumn, cfg.Window.TimestampColumn, cfg.Window.ValueColumn, table)
	}

	return &Source{
		dsn:    dsn,
		query:  query,
		buffer: cfg.Performance.ChannelBuffer,
	}, nil
}

// Open establishes the connection pool and verifies connectivity.
func (s *Source) Open(ctx context.Context, _ *config.BaseConfig) error {
	db, err := sql.Open("snowflake", s.dsn)
	if err != nil {
		return fserrors.Wrap(err, fserrors.ErrorTypeConnection, "failed to open snowflake connection")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fserrors.Wrap(err, fserrors.ErrorTypeConnection, "snowflake ping failed")
	}
	s.db = db
	return nil
}

// Read executes the projection query and streams rows.
func (s *Source) Read(ctx context.Context) (*core.RecordStream, error) {
	if s.db == nil {
		return nil, fserrors.New(fserrors.ErrorTypeValidation, "snowflake source read before open")
	}

	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeQuery, "snowflake query failed").
			WithDetail("query", s.query)
	}

	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fserrors.Wrap(err, fserrors.ErrorTypeQuery, "failed to read column names")
	}

	records := make(chan *pool.Record, s.buffer)
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)
		defer rows.Close()

		values := make([]interface{}, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}

		for rows.Next() {
			if err := rows.Scan(scanTargets...); err != nil {
				errs <- fserrors.Wrap(err, fserrors.ErrorTypeQuery, "row scan failed")
				return
			}

			rec := pool.GetRecord()
			rec.ID = pool.GenerateID("snowflake")
			rec.Metadata.Source = "snowflake"
			for i, col := range columns {
				v := values[i]
				if b, ok := v.([]byte); ok {
					v = string(b)
				}
				rec.SetData(col, v)
			}

			select {
			case records <- rec:
			case <-ctx.Done():
				rec.Release()
				errs <- ctx.Err()
				return
			}
		}
		if err := rows.Err(); err != nil {
			errs <- fserrors.Wrap(err, fserrors.ErrorTypeQuery, "row iteration failed")
		}
	}()

	return &core.RecordStream{Records: records, Errors: errs}, nil
}

// Close shuts down the connection pool.
func (s *Source) Close(_ context.Context) error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
