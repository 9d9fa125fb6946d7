package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all gflow configuration.
// Priority: flags > GFLOW_* env vars > settings file > defaults.
type Config struct {
	DBPath            string        `mapstructure:"db_path"`
	ListenAddr        string        `mapstructure:"listen_addr"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"`
	PoolSize          int           `mapstructure:"pool_size"`
	ResponseTimeout   time.Duration `mapstructure:"response_timeout"`
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
	VaultKey          string        `mapstructure:"vault_key"`
	// MCPHTTP mounts the MCP tools on /mcp of the HTTP server.
	MCPHTTP bool `mapstructure:"mcp_http"`
}

func gflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gflow"
	}
	return filepath.Join(home, ".gflow")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", filepath.Join(gflowDir(), "gflow.db"))
	v.SetDefault("listen_addr", ":4100")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("pool_size", 10)
	v.SetDefault("response_timeout", 30*time.Second)
	v.SetDefault("scheduler_interval", 30*time.Second)
	v.SetDefault("vault_key", "")
	v.SetDefault("mcp_http", false)
}

// newViper returns a viper instance with defaults and env binding. The
// settings file is read by loadConfig.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the settings file and decodes the merged configuration.
// An explicit path must exist; the default ~/.gflow/settings.{json,yaml} is
// optional.
func loadConfig(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("settings")
		v.AddConfigPath(gflowDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	return cfg, nil
}
