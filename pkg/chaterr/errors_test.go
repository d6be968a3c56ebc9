package chaterr

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestKindsSurviveWrapping(t *testing.T) {
	err := errors.Wrap(NewValidationError("temperature", "must be in [0, 2]"), "update settings")
	require.True(t, IsValidation(err))
	require.False(t, IsNotFound(err))

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "temperature", ve.Field)
	require.Contains(t, err.Error(), "invalid temperature")

	require.True(t, IsNotFound(errors.Wrapf(NewNotFoundError("turn", 12), "edit")))
	require.True(t, IsConcurrency(NewConcurrencyError("send")))
}

func TestUpstreamErrorUnwrapsCause(t *testing.T) {
	err := NewUpstreamError(7, context.Canceled)
	require.True(t, IsUpstream(err))
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 7, err.PartialLength)
	require.Equal(t, context.Canceled.Error(), err.Message)
}

func TestCorruptRecordErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("missing role")
	err := errors.Wrap(NewCorruptRecordError("daily", cause), "load")
	require.True(t, IsCorrupt(err))
	require.True(t, errors.Is(err, cause))
	require.Contains(t, err.Error(), `record "daily" is corrupt`)
}
