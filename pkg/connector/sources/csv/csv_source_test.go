package csv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/pool"
	"github.com/quartzdata/foresight/pkg/testutil"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sourceConfig(path string) *config.BaseConfig {
	cfg := config.NewBaseConfig("test")
	cfg.Source.Type = "csv"
	cfg.Source.Options = map[string]interface{}{"path": path}
	return cfg
}

func drain(t *testing.T, s *Source) []*pool.Record {
	t.Helper()
	ctx := testutil.TestContext(t)

	stream, err := s.Read(ctx)
	require.NoError(t, err)

	var records []*pool.Record
	for rec := range stream.Records {
		records = append(records, rec)
	}
	for err := range stream.Errors {
		require.NoError(t, err)
	}
	return records
}

func TestReadWithHeader(t *testing.T) {
	path := writeFile(t, "company,date,revenue\nacme,2023-01-01,100.5\nglobex,2023-01-01,7\n")
	cfg := sourceConfig(path)

	src, err := NewSource(cfg)
	require.NoError(t, err)
	s := src.(*Source)
	require.NoError(t, s.Open(testutil.TestContext(t), cfg))
	defer s.Close(testutil.TestContext(t))

	records := drain(t, s)
	require.Len(t, records, 2)

	company, ok := records[0].GetData("company")
	require.True(t, ok)
	assert.Equal(t, "acme", company)
	revenue, ok := records[0].GetData("revenue")
	require.True(t, ok)
	assert.Equal(t, "100.5", revenue)
	assert.Equal(t, "csv", records[0].Metadata.Source)

	company, _ = records[1].GetData("company")
	assert.Equal(t, "globex", company)
}

func TestReadWithoutHeader(t *testing.T) {
	path := writeFile(t, "acme,2023-01-01,100\n")
	cfg := sourceConfig(path)
	cfg.Source.Options["has_header"] = false

	src, err := NewSource(cfg)
	require.NoError(t, err)
	s := src.(*Source)
	require.NoError(t, s.Open(testutil.TestContext(t), cfg))
	defer s.Close(testutil.TestContext(t))

	records := drain(t, s)
	require.Len(t, records, 1)

	v, ok := records[0].GetData("column_0")
	require.True(t, ok)
	assert.Equal(t, "acme", v)
	v, ok = records[0].GetData("column_2")
	require.True(t, ok)
	assert.Equal(t, "100", v)
}

func TestRequiresPath(t *testing.T) {
	cfg := config.NewBaseConfig("test")
	_, err := NewSource(cfg)
	assert.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	cfg := sourceConfig(filepath.Join(t.TempDir(), "nope.csv"))
	src, err := NewSource(cfg)
	require.NoError(t, err)
	assert.Error(t, src.Open(testutil.TestContext(t), cfg))
}

func TestReadBeforeOpen(t *testing.T) {
	cfg := sourceConfig(writeFile(t, "a,b\n1,2\n"))
	src, err := NewSource(cfg)
	require.NoError(t, err)
	_, err = src.Read(testutil.TestContext(t))
	assert.Error(t, err)
}

func TestMalformedRowSurfacesError(t *testing.T) {
	path := writeFile(t, "a,b\n1,2\n\"unterminated\n")
	cfg := sourceConfig(path)

	src, err := NewSource(cfg)
	require.NoError(t, err)
	s := src.(*Source)
	require.NoError(t, s.Open(testutil.TestContext(t), cfg))
	defer s.Close(testutil.TestContext(t))

	stream, err := s.Read(testutil.TestContext(t))
	require.NoError(t, err)

	count := 0
	for range stream.Records {
		count++
	}
	assert.Equal(t, 1, count)

	var streamErr error
	for err := range stream.Errors {
		streamErr = err
	}
	assert.Error(t, streamErr)
}
