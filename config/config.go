// Package config loads the engine and server configuration.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the workflow engine server.
type Config struct {
	Server struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"server"`
	Database struct {
		// DSN is a postgres connection string; empty selects the in-memory
		// store.
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Uploads struct {
		MaxChunkBytes int `mapstructure:"max_chunk_bytes"`
		// SessionTTL evicts abandoned upload sessions. Zero keeps sessions
		// until reassembly or explicit deletion.
		SessionTTL time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"uploads"`
	Callbacks struct {
		WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	} `mapstructure:"callbacks"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	ActivityLogDir string `mapstructure:"activity_log_dir"`
}

// Load reads configuration from the given file (or ./config.yaml when path is
// empty) with WORKFLOW_-prefixed environment overrides. A missing default
// config file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("uploads.max_chunk_bytes", 5<<20)
	v.SetDefault("callbacks.webhook_timeout", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("WORKFLOW")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
