// taskwatch/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Engine knobs.
	PollInterval    time.Duration `mapstructure:"POLL_INTERVAL"`
	RetryDelay      time.Duration `mapstructure:"RETRY_DELAY"`
	MaxPollFailures int           `mapstructure:"MAX_POLL_FAILURES"`
	HistoryCapacity int           `mapstructure:"HISTORY_CAPACITY"`

	// Job backend collaborator.
	BackendURL     string        `mapstructure:"BACKEND_URL"`
	BackendTimeout time.Duration `mapstructure:"BACKEND_TIMEOUT"`

	// Persistent storage collaborator.
	StorageDriver string `mapstructure:"STORAGE_DRIVER"` // "file" or "redis"
	HistoryPath   string `mapstructure:"HISTORY_PATH"`
	HistoryKey    string `mapstructure:"HISTORY_KEY"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to time.Duration.
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		// It is a string -> time.Duration. Parse it.
		return time.ParseDuration(data.(string))
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("POLL_INTERVAL", "1500ms")
	vp.SetDefault("RETRY_DELAY", "2s")
	vp.SetDefault("MAX_POLL_FAILURES", 10)
	vp.SetDefault("HISTORY_CAPACITY", 100)
	vp.SetDefault("BACKEND_URL", "http://localhost:8000")
	vp.SetDefault("BACKEND_TIMEOUT", "30s")
	vp.SetDefault("STORAGE_DRIVER", "file")
	vp.SetDefault("HISTORY_PATH", "processing_history.json")
	vp.SetDefault("HISTORY_KEY", "taskwatch:history")
	vp.SetDefault("REDIS_ADDR", "localhost:6379")
	vp.SetDefault("REDIS_PASSWORD", "")
	vp.SetDefault("REDIS_DB", 0)
	vp.SetDefault("LOG_LEVEL", "info")

	// Load from config file
	vp.SetConfigName("taskwatch_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/taskwatch/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("TASKWATCH")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
