// Package settings holds the generation parameters sent with every
// completion request.
//
// Settings is a value type. Copies are handed to the completion client and to
// persistence, so changing the active settings never alters a request that is
// already streaming or a record that was already saved.
package settings

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/rs/zerolog"
)

const (
	DefaultModelID          = "gpt-3.5-turbo"
	DefaultTemperature      = 0.7
	DefaultTopP             = 0.9
	DefaultPresencePenalty  = 0.0
	DefaultFrequencyPenalty = 0.0
)

const (
	FieldTemperature      = "temperature"
	FieldTopP             = "top_p"
	FieldPresencePenalty  = "presence_penalty"
	FieldFrequencyPenalty = "frequency_penalty"
	FieldModelID          = "model_id"
	FieldSystemPrompt     = "system_prompt"
)

type Settings struct {
	Temperature      float64 `yaml:"temperature" json:"temperature" mapstructure:"temperature"`
	TopP             float64 `yaml:"top_p" json:"top_p" mapstructure:"top_p"`
	PresencePenalty  float64 `yaml:"presence_penalty" json:"presence_penalty" mapstructure:"presence_penalty"`
	FrequencyPenalty float64 `yaml:"frequency_penalty" json:"frequency_penalty" mapstructure:"frequency_penalty"`
	ModelID          string  `yaml:"model_id" json:"model_id" mapstructure:"model_id"`
	SystemPrompt     string  `yaml:"system_prompt" json:"system_prompt" mapstructure:"system_prompt"`
}

type Option func(*Settings)

func WithTemperature(v float64) Option {
	return func(s *Settings) { s.Temperature = v }
}

func WithTopP(v float64) Option {
	return func(s *Settings) { s.TopP = v }
}

func WithPresencePenalty(v float64) Option {
	return func(s *Settings) { s.PresencePenalty = v }
}

func WithFrequencyPenalty(v float64) Option {
	return func(s *Settings) { s.FrequencyPenalty = v }
}

func WithModelID(v string) Option {
	return func(s *Settings) { s.ModelID = v }
}

func WithSystemPrompt(v string) Option {
	return func(s *Settings) { s.SystemPrompt = v }
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Temperature:      DefaultTemperature,
		TopP:             DefaultTopP,
		PresencePenalty:  DefaultPresencePenalty,
		FrequencyPenalty: DefaultFrequencyPenalty,
		ModelID:          DefaultModelID,
	}
}

// New applies options on top of Default and validates the result.
func New(options ...Option) (Settings, error) {
	s := Default()
	return s.With(options...)
}

// With returns a validated copy of s with the options applied. s itself is
// never modified.
func (s Settings) With(options ...Option) (Settings, error) {
	ret := s
	for _, o := range options {
		o(&ret)
	}
	ret.ModelID = strings.TrimSpace(ret.ModelID)
	if err := ret.Validate(); err != nil {
		return Settings{}, err
	}
	return ret, nil
}

type floatRange struct {
	field    string
	value    float64
	min, max float64
}

// Validate checks every field against its range. Bounds are inclusive. The
// returned error is a *chaterr.ValidationError naming the first bad field.
func (s Settings) Validate() error {
	ranges := []floatRange{
		{FieldTemperature, s.Temperature, 0, 2},
		{FieldTopP, s.TopP, 0, 1},
		{FieldPresencePenalty, s.PresencePenalty, -2, 2},
		{FieldFrequencyPenalty, s.FrequencyPenalty, -2, 2},
	}
	for _, r := range ranges {
		if math.IsNaN(r.value) || r.value < r.min || r.value > r.max {
			return chaterr.NewValidationError(r.field,
				fmt.Sprintf("%v is outside [%v, %v]", r.value, r.min, r.max))
		}
	}
	if strings.TrimSpace(s.ModelID) == "" {
		return chaterr.NewValidationError(FieldModelID, "must not be empty")
	}
	return nil
}

// Metadata flattens the settings for events and logs.
func (s Settings) Metadata() map[string]interface{} {
	ret := map[string]interface{}{
		FieldModelID:          s.ModelID,
		FieldTemperature:      s.Temperature,
		FieldTopP:             s.TopP,
		FieldPresencePenalty:  s.PresencePenalty,
		FieldFrequencyPenalty: s.FrequencyPenalty,
	}
	if s.SystemPrompt != "" {
		ret[FieldSystemPrompt] = s.SystemPrompt
	}
	return ret
}

func (s Settings) MarshalZerologObject(e *zerolog.Event) {
	e.Str(FieldModelID, s.ModelID).
		Float64(FieldTemperature, s.Temperature).
		Float64(FieldTopP, s.TopP).
		Float64(FieldPresencePenalty, s.PresencePenalty).
		Float64(FieldFrequencyPenalty, s.FrequencyPenalty).
		Int("system_prompt_len", len(s.SystemPrompt))
}
