package main

import (
	"os"
	"strings"

	"github.com/go-go-golems/streamchat/pkg/logging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:          "streamchat",
	Short:        "streamchat is a streaming chat client for OpenAI compatible APIs",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		return initLogger()
	},
}

func initLogger() error {
	logLevel := viper.GetString("log-level")
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	return logging.InitLogger(&logging.Config{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
}

func initConfig(rootCmd *cobra.Command, configPath string) error {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}

	viper.SetEnvPrefix("streamchat")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.streamchat")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/streamchat")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// Config file not found; ignore error
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}
	for key, flag := range map[string]string{
		"store.backend":      "store-backend",
		"store.path":         "store-path",
		"store.format":       "store-format",
		"store.redis-addr":   "redis-addr",
		"store.redis-prefix": "redis-prefix",
		"autosave.name":      "autosave-name",
		"openai.api-key":     "openai-api-key",
		"openai.base-url":    "openai-base-url",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return err
		}
	}

	if err := initLogger(); err != nil {
		return err
	}

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// logging flags
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")

	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.streamchat/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key (default: $OPENAI_API_KEY)")
	rootCmd.PersistentFlags().String("openai-base-url", "", "OpenAI compatible base URL")

	// persistence flags
	rootCmd.PersistentFlags().String("store-backend", "file", "Record store backend (file, bolt, sqlite, redis)")
	rootCmd.PersistentFlags().String("store-path", "", "Record directory or database file (default under ~/.streamchat)")
	rootCmd.PersistentFlags().String("store-format", "json", "Record format of the file store (json, yaml)")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address of the redis store")
	rootCmd.PersistentFlags().String("redis-prefix", "streamchat", "Key prefix of the redis store")
	rootCmd.PersistentFlags().String("autosave-name", "", "Save the conversation under this name after every response")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" {
			if len(os.Args) > idx+1 {
				configFile = os.Args[idx+1]
			}
		}
	}

	err := initConfig(rootCmd, configFile)
	cobra.CheckErr(err)

	rootCmd.AddCommand(serveCmd, chatCmd, recordsCmd)
}
