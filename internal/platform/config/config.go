// Package config loads Spyglass process configuration from the environment.
//
// Process configuration (this package) covers things that cannot change
// without a restart: the data directory, listen ports, and log level.
// User-mutable settings (inflight limits, watched folders, lens toggles)
// live in the settings table and are handled by internal/store.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds process-level configuration for the Spyglass daemon.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"local"`

	// DataDir is the root directory holding spyglass.db, index/, lenses/,
	// plugins/, and logs/.
	DataDir string `env:"SPYGLASS_DATA_DIR" envDefault:"./data"`

	RPCPort    int `env:"SPYGLASS_RPC_PORT" envDefault:"7777"`
	HealthPort int `env:"SPYGLASS_HEALTH_PORT" envDefault:"8080"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	SchedulerTickInterval string `env:"SCHEDULER_TICK_INTERVAL" envDefault:"5s"`
	ReseedCheckInterval   string `env:"RESEED_CHECK_INTERVAL" envDefault:"10m"`

	CrawlDepth        int     `env:"CRAWL_DEPTH" envDefault:"2"`
	CrawlRateLimitRPS float64 `env:"CRAWL_RATE_LIMIT_RPS" envDefault:"2"`
	CrawlBatchSize    int     `env:"CRAWL_BATCH_SIZE" envDefault:"10"`

	CrawlClaimTTLSeconds int    `env:"CRAWL_CLAIM_TTL_SECONDS" envDefault:"300"`
	UserAgent            string `env:"SPYGLASS_USER_AGENT" envDefault:"Spyglass/1.0 (+https://spyglass.fyi)"`

	CrawlWorkerPoolSize int `env:"CRAWL_WORKER_POOL_SIZE" envDefault:"4"`
	CrawlMaxRetries     int `env:"CRAWL_MAX_RETRIES" envDefault:"5"`

	RobotsCacheSize int `env:"ROBOTS_CACHE_SIZE" envDefault:"1000"`

	EmbeddingProviderOrder string `env:"EMBEDDING_PROVIDER_ORDER" envDefault:"openai,google,cohere"`
	EmbeddingCircuitThreshold int    `env:"EMBEDDING_CIRCUIT_THRESHOLD" envDefault:"5"`
	EmbeddingCircuitTimeout   string `env:"EMBEDDING_CIRCUIT_TIMEOUT" envDefault:"1m"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIModel     string `env:"OPENAI_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	GoogleAPIKey    string `env:"GOOGLE_API_KEY"`
	GoogleModel     string `env:"GOOGLE_EMBEDDING_MODEL" envDefault:"text-embedding-004"`
	CohereAPIKey    string `env:"COHERE_API_KEY"`
	CohereModel     string `env:"COHERE_EMBEDDING_MODEL" envDefault:"embed-multilingual-v3.0"`
	EmbeddingTargetDimensions int `env:"EMBEDDING_TARGET_DIMENSIONS" envDefault:"768"`

	PluginExecTimeoutSeconds int `env:"PLUGIN_EXEC_TIMEOUT_SECONDS" envDefault:"30"`

	AudioTranscriptionEnabled bool   `env:"AUDIO_TRANSCRIPTION_ENABLED" envDefault:"false"`
	WhisperModelPath          string `env:"WHISPER_MODEL_PATH" envDefault:""`
}

// Load loads configuration from the environment, reading an optional
// .env file in the working directory first.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// IndexDir returns the directory holding the Bleve full-text index.
func (c *Config) IndexDir() string { return filepath.Join(c.DataDir, "index") }

// LensesDir returns the directory holding installed lens manifests.
func (c *Config) LensesDir() string { return filepath.Join(c.DataDir, "lenses") }

// LensCatalogDir returns the directory holding the bundled catalog of
// available-but-not-yet-installed lens manifests, searched by
// search_lenses and distinct from LensesDir's installed set.
func (c *Config) LensCatalogDir() string { return filepath.Join(c.DataDir, "lens-catalog") }

// PluginsDir returns the directory holding installed plugins.
func (c *Config) PluginsDir() string { return filepath.Join(c.DataDir, "plugins") }

// LogsDir returns the directory holding log output.
func (c *Config) LogsDir() string { return filepath.Join(c.DataDir, "logs") }

// DBPath returns the path to the embedded SQLite database file.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "spyglass.db") }
