// Package config loads service configuration from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"scenepipe/internal/estimate"
	"scenepipe/internal/media"
)

// DefaultConfigFile is read from the working directory when no path is given.
const DefaultConfigFile = "scenepipe.yaml"

// Asset store kinds.
const (
	AssetStoreFilesystem = "filesystem"
	AssetStorePostgres   = "postgres"
)

// Provider kinds.
const (
	ProviderMock = "mock"
	ProviderHTTP = "http"
	ProviderExec = "exec"
)

// Config holds all configuration values for the application.
type Config struct {
	HTTPPort     int    `mapstructure:"http_port"`
	LogLevel     string `mapstructure:"log_level"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Where generated assets are recorded: "filesystem" or "postgres".
	AssetStore  string `mapstructure:"asset_store"`
	AssetDir    string `mapstructure:"asset_dir"`
	DatabaseURL string `mapstructure:"database_url"`
	// Apply embedded migrations when the controller starts.
	MigrateOnStart bool `mapstructure:"migrate_on_start"`

	// Optional event sinks. Empty disables them.
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisPrefix  string `mapstructure:"redis_prefix"`
	AMQPURL      string `mapstructure:"amqp_url"`
	AMQPExchange string `mapstructure:"amqp_exchange"`
	EventBuffer  int    `mapstructure:"event_buffer"`

	// Throttle enables inter-batch delays. Disable for tests and local runs.
	Throttle bool `mapstructure:"throttle"`

	// Per-IP limit on POST /jobs and POST /estimate.
	SubmitRateLimit float64 `mapstructure:"submit_rate_limit"`
	SubmitBurst     int     `mapstructure:"submit_burst"`

	// How long the controller waits for running jobs on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Cache          CacheConfig             `mapstructure:"cache"`
	Jobs           JobsConfig              `mapstructure:"jobs"`
	Image          ImageConfig             `mapstructure:"image"`
	Pricing        estimate.Pricing        `mapstructure:"pricing"`
	BatchDurations estimate.BatchDurations `mapstructure:"batch_durations"`
	Stages         StagesConfig            `mapstructure:"stages"`
}

type CacheConfig struct {
	Capacity         int  `mapstructure:"capacity"`
	NearDuplicates   bool `mapstructure:"near_duplicates"`
	SimilarityWindow int  `mapstructure:"similarity_window"`
}

type JobsConfig struct {
	ProgressHistory int           `mapstructure:"progress_history"`
	Retention       time.Duration `mapstructure:"retention"`
}

// ImageConfig holds the image params applied to every scene.
type ImageConfig struct {
	Size  string `mapstructure:"size"`
	Style string `mapstructure:"style"`
}

type StagesConfig struct {
	Images StageConfig `mapstructure:"images"`
	Audio  StageConfig `mapstructure:"audio"`
	Videos StageConfig `mapstructure:"videos"`
}

// StageConfig configures the provider and scheduling of one stage.
type StageConfig struct {
	Provider string   `mapstructure:"provider"`
	Model    string   `mapstructure:"model"`
	Endpoint string   `mapstructure:"endpoint"`
	APIKey   string   `mapstructure:"api_key"`
	Command  []string `mapstructure:"command"`
	WorkDir  string   `mapstructure:"work_dir"`
	// Simulated latency of the mock provider.
	MockLatency time.Duration `mapstructure:"mock_latency"`

	BatchSize       int           `mapstructure:"batch_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBase       time.Duration `mapstructure:"retry_base"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	InterBatchDelay time.Duration `mapstructure:"inter_batch_delay"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`

	// Provider requests per second; 0 means unlimited.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// Stage returns the configuration of one stage.
func (c *Config) Stage(stage media.Stage) StageConfig {
	switch stage {
	case media.StageImages:
		return c.Stages.Images
	case media.StageAudio:
		return c.Stages.Audio
	case media.StageVideos:
		return c.Stages.Videos
	}
	return StageConfig{}
}

// Load reads configuration from path (or ./scenepipe.yaml when path is empty
// and the file exists), then applies environment overrides. Nested keys map to
// upper snake case env vars, e.g. stages.images.batch_size → STAGES_IMAGES_BATCH_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("http_port", "HTTP_PORT", "PORT")
	_ = v.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("asset_store", AssetStoreFilesystem)
	v.SetDefault("asset_dir", "./data/assets")
	v.SetDefault("database_url", "")
	v.SetDefault("migrate_on_start", false)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_prefix", "scenepipe")
	v.SetDefault("amqp_url", "")
	v.SetDefault("amqp_exchange", "scenepipe.events")
	v.SetDefault("event_buffer", 256)
	v.SetDefault("throttle", true)
	v.SetDefault("submit_rate_limit", 1.0)
	v.SetDefault("submit_burst", 5)
	v.SetDefault("shutdown_timeout", 30*time.Second)

	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.near_duplicates", false)
	v.SetDefault("cache.similarity_window", 64)

	v.SetDefault("jobs.progress_history", 50)
	v.SetDefault("jobs.retention", time.Hour)

	v.SetDefault("image.size", "1024x1024")
	v.SetDefault("image.style", "vivid")

	pricing := estimate.DefaultPricing()
	v.SetDefault("pricing.image_per_asset", pricing.ImagePerAsset)
	v.SetDefault("pricing.audio_per_char", pricing.AudioPerChar)
	v.SetDefault("pricing.video_per_second", pricing.VideoPerSecond)

	durations := estimate.DefaultBatchDurations()
	v.SetDefault("batch_durations.images", durations.Images)
	v.SetDefault("batch_durations.audio", durations.Audio)
	v.SetDefault("batch_durations.videos", durations.Videos)

	stageDefaults := map[media.Stage]StageConfig{
		media.StageImages: {Model: "dall-e-3", BatchSize: 5, InterBatchDelay: 2 * time.Second, CallTimeout: time.Minute},
		media.StageAudio:  {Model: "eleven_multilingual_v2", BatchSize: 10, InterBatchDelay: time.Second, CallTimeout: time.Minute},
		media.StageVideos: {Model: "veo-2", BatchSize: 2, InterBatchDelay: 5 * time.Second, CallTimeout: 5 * time.Minute},
	}
	for stage, d := range stageDefaults {
		prefix := "stages." + string(stage) + "."
		v.SetDefault(prefix+"provider", ProviderMock)
		v.SetDefault(prefix+"model", d.Model)
		v.SetDefault(prefix+"endpoint", "")
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"command", []string{})
		v.SetDefault(prefix+"work_dir", "")
		v.SetDefault(prefix+"mock_latency", 200*time.Millisecond)
		v.SetDefault(prefix+"batch_size", d.BatchSize)
		v.SetDefault(prefix+"max_retries", 3)
		v.SetDefault(prefix+"retry_base", time.Second)
		v.SetDefault(prefix+"max_backoff", 30*time.Second)
		v.SetDefault(prefix+"inter_batch_delay", d.InterBatchDelay)
		v.SetDefault(prefix+"call_timeout", d.CallTimeout)
		v.SetDefault(prefix+"rate_limit", 0.0)
		v.SetDefault(prefix+"burst", 1)
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port must be between 1 and 65535, got %d", c.HTTPPort))
	}

	switch c.AssetStore {
	case AssetStoreFilesystem:
		if strings.TrimSpace(c.AssetDir) == "" {
			errs = append(errs, errors.New("asset_dir is required for the filesystem asset store (env: ASSET_DIR)"))
		}
	case AssetStorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required (env: DATABASE_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid asset_store %q: must be %q or %q", c.AssetStore, AssetStoreFilesystem, AssetStorePostgres))
	}

	if c.Cache.SimilarityWindow < 1 {
		errs = append(errs, fmt.Errorf("cache.similarity_window must be at least 1, got %d", c.Cache.SimilarityWindow))
	}
	if c.SubmitRateLimit < 0 {
		errs = append(errs, errors.New("submit_rate_limit must not be negative"))
	}

	for _, stage := range media.Stages {
		errs = append(errs, c.Stage(stage).validate(string(stage))...)
	}

	return errors.Join(errs...)
}

func (s StageConfig) validate(name string) []error {
	var errs []error
	prefix := "stages." + name

	switch s.Provider {
	case ProviderMock:
	case ProviderHTTP:
		if s.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%s.endpoint is required for the http provider", prefix))
		}
	case ProviderExec:
		if len(s.Command) == 0 {
			errs = append(errs, fmt.Errorf("%s.command is required for the exec provider", prefix))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid %s.provider %q: must be mock, http or exec", prefix, s.Provider))
	}

	if s.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("%s.batch_size must be at least 1, got %d", prefix, s.BatchSize))
	}
	if s.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%s.max_retries must not be negative, got %d", prefix, s.MaxRetries))
	}
	if s.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%s.rate_limit must not be negative", prefix))
	}
	return errs
}
