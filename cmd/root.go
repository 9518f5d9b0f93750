package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/autoapply/internal/backend"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/messaging"
	"github.com/spigell/autoapply/internal/page/chrome"
	"github.com/spigell/autoapply/internal/quota"
	"github.com/spigell/autoapply/internal/runner"
	"github.com/spigell/autoapply/internal/site"
)

const (
	app       = "autoapply"
	envPrefix = "AUTOAPPLY"
)

type Config struct {
	Site      string         `mapstructure:"site"`
	UserID    string         `mapstructure:"user-id"`
	TokenFile string         `mapstructure:"token-file"`
	Backend   backend.Config `mapstructure:"backend"`

	Run     runner.Config    `mapstructure:"run"`
	Limits  quota.Limits     `mapstructure:"limits"`
	Board   site.Options     `mapstructure:"board"`
	Form    form.Config      `mapstructure:"form"`
	Browser chrome.Config    `mapstructure:"browser"`
	Filters filtering.Config `mapstructure:"filters"`

	State StateConfig            `mapstructure:"state"`
	AI    AIConfig               `mapstructure:"ai"`
	Serve messaging.ServerConfig `mapstructure:"serve"`
}

type StateConfig struct {
	// Driver is one of file, sqlite or memory.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type AIConfig struct {
	// Provider is one of backend, gemini, openai or none.
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "autoapply searches job boards in a browser and fills in-page applications for a user",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is autoapply.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("state-path", "", "where the run state is persisted")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("state.path", rootCmd.PersistentFlags().Lookup("state-path"))

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for _, key := range []string{"token-file", "user-id", "backend.url", "ai.api-key", "ai.api-key-file"} {
		if err := viper.BindEnv(key); err != nil {
			log.Fatalf("binding %s environment variable: %v", key, err)
		}
	}

	viper.SetDefault("site", "linkedin")
	viper.SetDefault("state.driver", "file")
	viper.SetDefault("state.path", app+"-state.json")
	viper.SetDefault("ai.provider", "backend")
	viper.SetDefault("run.job-delay", "2s")
	viper.SetDefault("serve.listen", messaging.DefaultServerConfig().Listen)
	viper.SetDefault("serve.metrics-path", messaging.DefaultServerConfig().MetricsPath)
	viper.SetDefault("serve.rate-per-second", messaging.DefaultServerConfig().RatePerSecond)
	viper.SetDefault("serve.burst", messaging.DefaultServerConfig().Burst)
}

func initConfig() {
	// a missing .env is fine; everything it holds can come from the environment too
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}
	if config.Limits == (quota.Limits{}) {
		config.Limits = quota.DefaultLimits()
	}
	return config, nil
}
