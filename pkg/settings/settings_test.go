package settings

import (
	"math"
	"testing"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	require.Equal(t, DefaultModelID, s.ModelID)
	require.Equal(t, 0.7, s.Temperature)
	require.Equal(t, 0.9, s.TopP)
}

func requireInvalidField(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	var ve *chaterr.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %T", err)
	require.Equal(t, field, ve.Field)
}

func TestTemperatureBounds(t *testing.T) {
	_, err := New(WithTemperature(2.5))
	requireInvalidField(t, err, FieldTemperature)

	s, err := New(WithTemperature(2.0))
	require.NoError(t, err)
	require.Equal(t, 2.0, s.Temperature)

	_, err = New(WithTemperature(0))
	require.NoError(t, err)

	_, err = New(WithTemperature(-0.01))
	requireInvalidField(t, err, FieldTemperature)

	_, err = New(WithTemperature(math.NaN()))
	requireInvalidField(t, err, FieldTemperature)
}

func TestFieldRanges(t *testing.T) {
	cases := []struct {
		name  string
		opt   Option
		field string
		ok    bool
	}{
		{"top_p upper", WithTopP(1.0), FieldTopP, true},
		{"top_p over", WithTopP(1.01), FieldTopP, false},
		{"presence lower", WithPresencePenalty(-2.0), FieldPresencePenalty, true},
		{"presence under", WithPresencePenalty(-2.1), FieldPresencePenalty, false},
		{"frequency upper", WithFrequencyPenalty(2.0), FieldFrequencyPenalty, true},
		{"frequency over", WithFrequencyPenalty(3), FieldFrequencyPenalty, false},
		{"model empty", WithModelID("   "), FieldModelID, false},
		{"model set", WithModelID("gpt-4o-mini"), FieldModelID, true},
		{"system prompt empty", WithSystemPrompt(""), FieldSystemPrompt, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := New(c.opt)
			if c.ok {
				require.NoError(t, err)
				return
			}
			requireInvalidField(t, err, c.field)
		})
	}
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	s := Default()
	updated, err := s.With(WithTemperature(1.5), WithSystemPrompt("be brief"))
	require.NoError(t, err)
	require.Equal(t, 1.5, updated.Temperature)
	require.Equal(t, "be brief", updated.SystemPrompt)
	require.Equal(t, DefaultTemperature, s.Temperature)
	require.Equal(t, "", s.SystemPrompt)
}

func TestMetadata(t *testing.T) {
	s, err := New(WithSystemPrompt("hi"))
	require.NoError(t, err)
	md := s.Metadata()
	require.Equal(t, DefaultModelID, md[FieldModelID])
	require.Equal(t, "hi", md[FieldSystemPrompt])

	md = Default().Metadata()
	_, ok := md[FieldSystemPrompt]
	require.False(t, ok)
}
