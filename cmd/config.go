package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Far3/financial-advisor-ai/internal/config"
)

const (
	configName = ".advisor"
	envPrefix  = "ADVISOR"
)

// InitConfig reads the config file and ADVISOR_* environment variables.
func InitConfig() {
	// A missing .env is fine.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(".")
		viper.AddConfigPath(home)
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			if viper.GetBool("verbose") {
				fmt.Fprintln(os.Stderr, "No config file found. Using defaults and environment variables.")
			}
		default:
			fmt.Fprintln(os.Stderr, "Error reading config file:", viper.ConfigFileUsed(), "-", err)
		}
	}
}

// GetConfig unmarshals and validates the current configuration.
func GetConfig() (config.AppConfig, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, err
	}
	return cfg, nil
}

var watchOnce sync.Once

// watchConfig re-reads the config file on change and hands the validated
// result to apply. Invalid edits are logged and ignored.
func watchConfig(apply func(config.AppConfig)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	watchOnce.Do(func() {
		viper.OnConfigChange(func(e fsnotify.Event) {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				slog.Warn("config reload rejected", "file", e.Name, "error", err)
				return
			}
			slog.Info("config reloaded", "file", e.Name)
			apply(cfg)
		})
		viper.WatchConfig()
	})
}
