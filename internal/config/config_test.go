package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scenepipe/internal/media"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenepipe.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// chdir moves into dir so Load does not pick up a stray scenepipe.yaml.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_DefaultValues(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.AssetStore != AssetStoreFilesystem {
		t.Errorf("expected filesystem asset store, got %s", cfg.AssetStore)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
	if !cfg.Throttle {
		t.Error("expected throttling enabled by default")
	}
	if cfg.Jobs.Retention != time.Hour || cfg.Jobs.ProgressHistory != 50 {
		t.Errorf("unexpected job defaults %+v", cfg.Jobs)
	}
	if cfg.Cache.NearDuplicates || cfg.Cache.SimilarityWindow != 64 {
		t.Errorf("expected near-duplicate reuse off with window 64, got %+v", cfg.Cache)
	}
	if cfg.Pricing.AudioPerChar != 0.0005 {
		t.Errorf("expected audio price 0.0005, got %v", cfg.Pricing.AudioPerChar)
	}
	if cfg.BatchDurations.Videos != 90*time.Second {
		t.Errorf("expected video batch duration 90s, got %v", cfg.BatchDurations.Videos)
	}

	images := cfg.Stage(media.StageImages)
	if images.Provider != ProviderMock || images.BatchSize != 5 || images.MaxRetries != 3 {
		t.Errorf("unexpected image stage defaults %+v", images)
	}
	if cfg.Stage(media.StageVideos).CallTimeout != 5*time.Minute {
		t.Errorf("expected 5m video call timeout, got %v", cfg.Stage(media.StageVideos).CallTimeout)
	}
}

func TestLoad_RequiresDatabaseURLForPostgres(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ASSET_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ASSET_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PORT", "9999")
	t.Setenv("THROTTLE", "false")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")
	t.Setenv("STAGES_AUDIO_BATCH_SIZE", "7")
	t.Setenv("STAGES_AUDIO_RETRY_BASE", "250ms")
	t.Setenv("STAGES_VIDEOS_PROVIDER", "exec")
	t.Setenv("STAGES_VIDEOS_COMMAND", "render-clip,--fast")
	t.Setenv("JOBS_RETENTION", "10m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.Throttle {
		t.Error("expected throttle disabled from env")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Errorf("expected RedisAddr from env, got %s", cfg.RedisAddr)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
	audio := cfg.Stage(media.StageAudio)
	if audio.BatchSize != 7 || audio.RetryBase != 250*time.Millisecond {
		t.Errorf("unexpected audio stage %+v", audio)
	}
	videos := cfg.Stage(media.StageVideos)
	if videos.Provider != ProviderExec || len(videos.Command) != 2 || videos.Command[0] != "render-clip" {
		t.Errorf("unexpected video stage %+v", videos)
	}
	if cfg.Jobs.Retention != 10*time.Minute {
		t.Errorf("expected retention 10m, got %v", cfg.Jobs.Retention)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, `
http_port: 7777
asset_store: filesystem
asset_dir: /var/lib/scenepipe
cache:
  capacity: 10
  near_duplicates: true
stages:
  images:
    provider: http
    endpoint: https://images.internal/generate
    api_key: secret
    batch_size: 3
    inter_batch_delay: 500ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.AssetDir != "/var/lib/scenepipe" {
		t.Errorf("expected AssetDir from file, got %s", cfg.AssetDir)
	}
	if cfg.Cache.Capacity != 10 || !cfg.Cache.NearDuplicates {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	images := cfg.Stage(media.StageImages)
	if images.Provider != ProviderHTTP || images.Endpoint != "https://images.internal/generate" {
		t.Errorf("unexpected image stage %+v", images)
	}
	if images.BatchSize != 3 || images.InterBatchDelay != 500*time.Millisecond {
		t.Errorf("unexpected image scheduling %+v", images)
	}
	// Untouched keys keep their defaults.
	if images.MaxRetries != 3 || cfg.Stage(media.StageAudio).BatchSize != 10 {
		t.Errorf("defaults lost when merging file config")
	}
}

func TestLoad_DefaultFileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("http_port: 7000\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 7000 {
		t.Errorf("expected HTTPPort from ./scenepipe.yaml, got %d", cfg.HTTPPort)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, `
http_port: 7777
log_level: debug
`)
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel from file, got %s", cfg.LogLevel)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "Invalid Asset Store",
			env:     map[string]string{"ASSET_STORE": "s3"},
			wantErr: "invalid asset_store",
		},
		{
			name:    "Invalid Provider",
			env:     map[string]string{"STAGES_IMAGES_PROVIDER": "carrier-pigeon"},
			wantErr: "invalid stages.images.provider",
		},
		{
			name:    "HTTP Without Endpoint",
			env:     map[string]string{"STAGES_AUDIO_PROVIDER": "http"},
			wantErr: "stages.audio.endpoint is required",
		},
		{
			name:    "Exec Without Command",
			env:     map[string]string{"STAGES_VIDEOS_PROVIDER": "exec"},
			wantErr: "stages.videos.command is required",
		},
		{
			name:    "Zero Batch Size",
			env:     map[string]string{"STAGES_IMAGES_BATCH_SIZE": "0"},
			wantErr: "stages.images.batch_size must be at least 1",
		},
		{
			name:    "Negative Retries",
			env:     map[string]string{"STAGES_AUDIO_MAX_RETRIES": "-1"},
			wantErr: "stages.audio.max_retries must not be negative",
		},
		{
			name:    "Zero Similarity Window",
			env:     map[string]string{"CACHE_SIMILARITY_WINDOW": "0"},
			wantErr: "cache.similarity_window must be at least 1",
		},
		{
			name:    "Bad Port",
			env:     map[string]string{"PORT": "70000"},
			wantErr: "http_port must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q in error, got %v", tt.wantErr, err)
			}
		})
	}
}
