package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/completion/openai"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/events"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/go-go-golems/streamchat/pkg/persistence/boltstore"
	"github.com/go-go-golems/streamchat/pkg/persistence/filestore"
	"github.com/go-go-golems/streamchat/pkg/persistence/redisstore"
	"github.com/go-go-golems/streamchat/pkg/persistence/sqlitestore"
	"github.com/go-go-golems/streamchat/pkg/session"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func addSettingsFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", settings.DefaultModelID, "Model id")
	cmd.Flags().Float64("temperature", settings.DefaultTemperature, "Sampling temperature (0-2)")
	cmd.Flags().Float64("top-p", settings.DefaultTopP, "Nucleus sampling (0-1)")
	cmd.Flags().Float64("presence-penalty", settings.DefaultPresencePenalty, "Presence penalty (-2-2)")
	cmd.Flags().Float64("frequency-penalty", settings.DefaultFrequencyPenalty, "Frequency penalty (-2-2)")
	cmd.Flags().String("system-prompt", "", "System prompt sent before every conversation")
}

func settingsFlagsChanged(cmd *cobra.Command) bool {
	for _, name := range []string{"model", "temperature", "top-p", "presence-penalty", "frequency-penalty", "system-prompt"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// loadSettings starts from the defaults, applies the settings section of the
// config file and then any flag given on the command line.
func loadSettings(cmd *cobra.Command) (settings.Settings, error) {
	s := settings.Default()
	if err := viper.UnmarshalKey("settings", &s); err != nil {
		return settings.Settings{}, errors.Wrap(err, "could not parse settings section")
	}

	flags := cmd.Flags()
	var options []settings.Option
	if flags.Changed("model") {
		v, _ := flags.GetString("model")
		options = append(options, settings.WithModelID(v))
	}
	if flags.Changed("temperature") {
		v, _ := flags.GetFloat64("temperature")
		options = append(options, settings.WithTemperature(v))
	}
	if flags.Changed("top-p") {
		v, _ := flags.GetFloat64("top-p")
		options = append(options, settings.WithTopP(v))
	}
	if flags.Changed("presence-penalty") {
		v, _ := flags.GetFloat64("presence-penalty")
		options = append(options, settings.WithPresencePenalty(v))
	}
	if flags.Changed("frequency-penalty") {
		v, _ := flags.GetFloat64("frequency-penalty")
		options = append(options, settings.WithFrequencyPenalty(v))
	}
	if flags.Changed("system-prompt") {
		v, _ := flags.GetString("system-prompt")
		options = append(options, settings.WithSystemPrompt(v))
	}

	return s.With(options...)
}

// loadOpenAIConfig reads OPENAI_* from the environment, then lets the openai
// config section and flags override it.
func loadOpenAIConfig() (openai.Config, error) {
	cfg, err := openai.LoadConfigFromEnv()
	if err != nil {
		return openai.Config{}, err
	}

	if v := viper.GetString("openai.api-key"); v != "" {
		cfg.APIKey = v
	}
	if v := viper.GetString("openai.base-url"); v != "" {
		cfg.BaseURL = v
	}
	if viper.IsSet("openai.timeout") {
		cfg.Timeout = viper.GetDuration("openai.timeout")
	}
	if viper.IsSet("openai.max-retries") {
		cfg.MaxRetries = viper.GetInt("openai.max-retries")
	}
	if viper.IsSet("openai.retry-backoff") {
		cfg.RetryBackoff = viper.GetDuration("openai.retry-backoff")
	}
	if viper.IsSet("openai.max-context-tokens") {
		cfg.MaxContextTokens = viper.GetInt("openai.max-context-tokens")
	}
	if viper.IsSet("openai.skip-key-validation") {
		cfg.SkipKeyValidation = viper.GetBool("openai.skip-key-validation")
	}
	if viper.IsSet("openai.allow-local-base-url") {
		cfg.AllowLocalBaseURL = viper.GetBool("openai.allow-local-base-url")
	}

	return cfg, nil
}

func dataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not find home directory")
	}
	dir := filepath.Join(home, ".streamchat")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "could not create %s", dir)
	}
	return dir, nil
}

// openRecordStore opens the backend selected by the store config section.
func openRecordStore(ctx context.Context) (persistence.Store, error) {
	backend := viper.GetString("store.backend")
	path := viper.GetString("store.path")

	defaultPath := func(name string) (string, error) {
		if path != "" {
			return path, nil
		}
		dir, err := dataDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, name), nil
	}

	switch backend {
	case "file", "":
		codec, err := persistence.CodecForFormat(persistence.Format(viper.GetString("store.format")))
		if err != nil {
			return nil, err
		}
		dir, err := defaultPath("conversations")
		if err != nil {
			return nil, err
		}
		return filestore.New(dir, filestore.WithCodec(codec))

	case "bolt":
		p, err := defaultPath("conversations.db")
		if err != nil {
			return nil, err
		}
		return boltstore.Open(p)

	case "sqlite":
		p, err := defaultPath("conversations.sqlite")
		if err != nil {
			return nil, err
		}
		return sqlitestore.Open(p)

	case "redis":
		return redisstore.Open(ctx,
			viper.GetString("store.redis-addr"),
			redisstore.WithPrefix(viper.GetString("store.redis-prefix")),
		)
	}

	return nil, chaterr.NewValidationError("store.backend", "unknown backend "+backend)
}

// newManager builds a session manager from the configuration. When an
// autosave name is configured and a record with that name exists, it is
// loaded so the conversation resumes where it stopped.
func newManager(ctx context.Context, cmd *cobra.Command, sinks ...events.EventSink) (*session.Manager, persistence.Store, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := loadOpenAIConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := openai.NewClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	records, err := openRecordStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	autosaveName := viper.GetString("autosave.name")
	manager, err := session.NewManager(conversation.NewMemoryStore(), client, s,
		session.WithEventSinks(sinks...),
		session.WithPersistence(records, autosaveName != ""),
		session.WithName(autosaveName),
	)
	if err != nil {
		_ = records.Close()
		return nil, nil, err
	}

	if autosaveName != "" {
		id, err := persistence.RecordIDForName(autosaveName)
		if err != nil {
			_ = records.Close()
			return nil, nil, err
		}
		err = manager.LoadRecord(ctx, id)
		switch {
		case err == nil:
			log.Info().Str("record", string(id)).Int("turns", len(manager.Turns())).Msg("Resumed conversation")
			if settingsFlagsChanged(cmd) {
				if err := manager.UpdateSettings(s); err != nil {
					_ = records.Close()
					return nil, nil, err
				}
			}
		case chaterr.IsNotFound(err):
		default:
			_ = records.Close()
			return nil, nil, err
		}
	}

	return manager, records, nil
}
