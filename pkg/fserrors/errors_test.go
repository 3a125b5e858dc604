package fserrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(ErrorTypeData, "bad row")
	assert.Equal(t, "data: bad row", err.Error())
	assert.NotEmpty(t, err.Stack)

	err = Newf(ErrorTypeConfig, "unknown option %q", "foo")
	assert.Equal(t, `config: unknown option "foo"`, err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, ErrorTypeInternal, "seal failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "ignored"))
}

func TestWithDetailAndPartition(t *testing.T) {
	err := New(ErrorTypeForecast, "fit diverged").
		WithPartition("acme").
		WithDetail("procedure", "seasonal")

	key, ok := err.Partition()
	require.True(t, ok)
	assert.Equal(t, "acme", key)
	assert.Equal(t, "seasonal", err.Details["procedure"])

	_, ok = New(ErrorTypeData, "x").Partition()
	assert.False(t, ok)
}

func TestIsTypeWalksChain(t *testing.T) {
	inner := NewInsufficientHistory("acme", 3, 14)
	outer := WrapForecast(inner, "acme", "seasonal")
	wrapped := fmt.Errorf("partition failed: %w", outer)

	assert.True(t, IsType(wrapped, ErrorTypeForecast))
	assert.True(t, IsType(wrapped, ErrorTypeInsufficientHistory))
	assert.False(t, IsType(wrapped, ErrorTypeConnection))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeData))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrorTypeTimeout, GetType(New(ErrorTypeTimeout, "slow")))
	assert.Equal(t, ErrorTypeInternal, GetType(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "refused")))
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "deadline")))
	assert.False(t, IsRetryable(New(ErrorTypeValidation, "bad key")))
	assert.False(t, IsRetryable(errors.New("plain")))

	// a procedure failure is transient unless it wraps a history shortfall
	transient := WrapForecast(errors.New("solver blew up"), "acme", "panel")
	assert.True(t, IsRetryable(transient))

	permanent := WrapForecast(NewInsufficientHistory("acme", 3, 14), "acme", "seasonal")
	assert.False(t, IsRetryable(permanent))
}

func TestInsufficientHistoryDetails(t *testing.T) {
	err := NewInsufficientHistory("acme", 5, 14)
	assert.Equal(t, ErrorTypeInsufficientHistory, err.Type)
	assert.Equal(t, 5, err.Details["observed"])
	assert.Equal(t, 14, err.Details["required"])
	key, _ := err.Partition()
	assert.Equal(t, "acme", key)
}

func TestMergeInconsistencyDetails(t *testing.T) {
	err := NewMergeInconsistency("acme", []string{"a", "b"}, []string{"a"})
	assert.Equal(t, ErrorTypeMergeInconsistency, err.Type)
	assert.Equal(t, []string{"a", "b"}, err.Details["expected_columns"])
	key, ok := err.Partition()
	require.True(t, ok)
	assert.Equal(t, "acme", key)

	// frame-level merges have no partition to attach
	_, ok = NewMergeInconsistency("", nil, nil).Partition()
	assert.False(t, ok)
}
