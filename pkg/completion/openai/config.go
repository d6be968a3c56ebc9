package openai

import (
	"strings"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/security"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://api.openai.com/v1"

type Config struct {
	APIKey            string        `yaml:"api-key" env:"OPENAI_API_KEY"`
	BaseURL           string        `yaml:"base-url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	// Timeout bounds the wait for the first fragment, retries included.
	Timeout           time.Duration `yaml:"timeout" env:"OPENAI_TIMEOUT" env-default:"60s"`
	MaxRetries        int           `yaml:"max-retries" env:"OPENAI_MAX_RETRIES" env-default:"2"`
	RetryBackoff      time.Duration `yaml:"retry-backoff" env:"OPENAI_RETRY_BACKOFF" env-default:"1s"`
	MaxContextTokens  int           `yaml:"max-context-tokens" env:"OPENAI_MAX_CONTEXT_TOKENS" env-default:"0"`
	SkipKeyValidation bool          `yaml:"skip-key-validation" env:"OPENAI_SKIP_KEY_VALIDATION" env-default:"false"`
	// AllowLocalBaseURL permits http and local network hosts for self-hosted
	// compatible servers.
	AllowLocalBaseURL bool `yaml:"allow-local-base-url" env:"OPENAI_ALLOW_LOCAL_BASE_URL" env-default:"false"`
}

// LoadConfigFromEnv reads the OPENAI_* environment variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "could not read openai config from environment")
	}
	return cfg, nil
}

// LoadConfigFile reads a yaml config file, then lets the environment
// override it.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "could not read openai config from %s", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !c.SkipKeyValidation {
		if err := ValidateAPIKey(c.APIKey); err != nil {
			return err
		}
	}
	if c.BaseURL != "" {
		err := security.ValidateOutboundURL("base-url", c.BaseURL, security.OutboundURLOptions{
			AllowHTTP:          c.AllowLocalBaseURL,
			AllowLocalNetworks: c.AllowLocalBaseURL,
		})
		if err != nil {
			return err
		}
	}
	if c.Timeout < 0 {
		return chaterr.NewValidationError("timeout", "must not be negative")
	}
	if c.MaxRetries < 0 {
		return chaterr.NewValidationError("max-retries", "must not be negative")
	}
	return nil
}

// ValidateAPIKey checks the shape of an OpenAI secret key. Compatible
// endpoints with other key formats set SkipKeyValidation instead.
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return chaterr.NewValidationError("api-key", "is not set")
	case !strings.HasPrefix(key, "sk-"):
		return chaterr.NewValidationError("api-key", "must start with sk-")
	case len(key) < 20:
		return chaterr.NewValidationError("api-key", "is too short")
	}
	return nil
}
