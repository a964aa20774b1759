package config

import "time"

// EmbeddingConfig holds embedding provider settings extracted from Config.
type EmbeddingConfig struct {
	ProviderOrder     string
	CircuitThreshold  int
	CircuitTimeout    time.Duration
	OpenAIAPIKey      string
	OpenAIModel       string
	GoogleAPIKey      string
	GoogleModel       string
	CohereAPIKey      string
	CohereModel       string
	TargetDimensions  int
}

// EmbeddingCfg returns the embedding provider configuration.
func (c *Config) EmbeddingCfg() EmbeddingConfig {
	timeout, err := time.ParseDuration(c.EmbeddingCircuitTimeout)
	if err != nil {
		timeout = time.Minute
	}

	return EmbeddingConfig{
		ProviderOrder:    c.EmbeddingProviderOrder,
		CircuitThreshold: c.EmbeddingCircuitThreshold,
		CircuitTimeout:   timeout,
		OpenAIAPIKey:     c.OpenAIAPIKey,
		OpenAIModel:      c.OpenAIModel,
		GoogleAPIKey:     c.GoogleAPIKey,
		GoogleModel:      c.GoogleModel,
		CohereAPIKey:     c.CohereAPIKey,
		CohereModel:      c.CohereModel,
		TargetDimensions: c.EmbeddingTargetDimensions,
	}
}

// CrawlerConfig holds web crawler settings extracted from Config.
type CrawlerConfig struct {
	Depth        int
	RateLimitRPS float64
	BatchSize    int
	ClaimTTL     time.Duration
	UserAgent    string
}

// CrawlerCfg returns the web crawler configuration.
func (c *Config) CrawlerCfg() CrawlerConfig {
	return CrawlerConfig{
		Depth:        c.CrawlDepth,
		RateLimitRPS: c.CrawlRateLimitRPS,
		BatchSize:    c.CrawlBatchSize,
		ClaimTTL:     time.Duration(c.CrawlClaimTTLSeconds) * time.Second,
		UserAgent:    c.UserAgent,
	}
}

// PluginConfig holds plugin host settings extracted from Config.
type PluginConfig struct {
	ExecTimeout time.Duration
	PluginsDir  string
}

// PluginCfg returns the plugin host configuration.
func (c *Config) PluginCfg() PluginConfig {
	return PluginConfig{
		ExecTimeout: time.Duration(c.PluginExecTimeoutSeconds) * time.Second,
		PluginsDir:  c.PluginsDir(),
	}
}
