// Package config loads service configuration from config.yaml, .env and the environment.
package config

import (
	"fmt"
	"time"

	"github.com/rpattn/fleetload/internal/db"
)

// Config holds every section of the service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database db.Config      `mapstructure:"database"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Progress ProgressConfig `mapstructure:"progress"`
	Events   EventsConfig   `mapstructure:"events"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout stays 0 by default so progress streams are not cut off.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxFileSize int64  `mapstructure:"max_file_size" validate:"min=1"`
	MaxRows     int    `mapstructure:"max_rows" validate:"min=1"`
	StorageDir  string `mapstructure:"storage_dir" validate:"required"`
}

// PipelineConfig sizes the validation and creation worker pools.
type PipelineConfig struct {
	ValidationWorkers int `mapstructure:"validation_workers" validate:"min=1"`
	CreationWorkers   int `mapstructure:"creation_workers" validate:"min=1"`
	// Timeout bounds a whole batch run. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// ProgressConfig configures the progress hub and the optional redis relay.
type ProgressConfig struct {
	BufferSize int         `mapstructure:"buffer_size" validate:"min=1"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the cross-instance progress relay.
type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port          int    `mapstructure:"port" validate:"required_if=Enabled true,max=65535"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db" validate:"min=0"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// Addr returns the redis address in host:port form.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EventsConfig configures lifecycle event publishing. No brokers disables it.
type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic" validate:"required_with=Brokers"`
}

// Enabled reports whether events should be published to kafka.
func (c EventsConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// SweeperConfig schedules the stale batch sweeper.
type SweeperConfig struct {
	Schedule   string        `mapstructure:"schedule" validate:"required"`
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"min=1m"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}
