package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rpattn/fleetload/internal/db"
)

// EnvPrefix namespaces environment overrides, e.g. FLEETLOAD_DATABASE_HOST.
const EnvPrefix = "FLEETLOAD"

var validate = validator.New()

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: db.DefaultConfig(),
		Upload: UploadConfig{
			MaxFileSize: 10 << 20,
			MaxRows:     5000,
			StorageDir:  "./data/uploads",
		},
		Pipeline: PipelineConfig{
			ValidationWorkers: 8,
			CreationWorkers:   4,
		},
		Progress: ProgressConfig{
			BufferSize: 32,
			Redis: RedisConfig{
				Host:          "localhost",
				Port:          6379,
				ChannelPrefix: "fleetload:progress:",
			},
		},
		Events: EventsConfig{Topic: "fleetload.batches"},
		Sweeper: SweeperConfig{
			Schedule:   "@every 5m",
			StaleAfter: time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads config.yaml from configPath (optional), a .env file in the working
// directory (optional) and FLEETLOAD_* environment variables, then validates the result.
func Load(configPath string) (Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Defaults())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints on a loaded configuration.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("database.min_conns", d.Database.MinConns)
	v.SetDefault("database.max_conn_lifetime", d.Database.MaxConnLifetime)
	v.SetDefault("database.max_conn_idle_time", d.Database.MaxConnIdleTime)

	v.SetDefault("upload.max_file_size", d.Upload.MaxFileSize)
	v.SetDefault("upload.max_rows", d.Upload.MaxRows)
	v.SetDefault("upload.storage_dir", d.Upload.StorageDir)

	v.SetDefault("pipeline.validation_workers", d.Pipeline.ValidationWorkers)
	v.SetDefault("pipeline.creation_workers", d.Pipeline.CreationWorkers)
	v.SetDefault("pipeline.timeout", d.Pipeline.Timeout)

	v.SetDefault("progress.buffer_size", d.Progress.BufferSize)
	v.SetDefault("progress.redis.enabled", d.Progress.Redis.Enabled)
	v.SetDefault("progress.redis.host", d.Progress.Redis.Host)
	v.SetDefault("progress.redis.port", d.Progress.Redis.Port)
	v.SetDefault("progress.redis.password", d.Progress.Redis.Password)
	v.SetDefault("progress.redis.db", d.Progress.Redis.DB)
	v.SetDefault("progress.redis.channel_prefix", d.Progress.Redis.ChannelPrefix)

	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)

	v.SetDefault("sweeper.schedule", d.Sweeper.Schedule)
	v.SetDefault("sweeper.stale_after", d.Sweeper.StaleAfter)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
