// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Per-chain endpoints, keyed by chain ID
	SubgraphEndpoints map[int64]string
	RPCEndpoints      map[int64]string

	// Off-chain document gateway
	IPFSGateway string

	// Watcher settings
	PollInterval time.Duration

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultIPFSGateway  = "https://ipfs.io"
	DefaultPollInterval = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	subgraphs, err := parseEndpoints(os.Getenv("SUBGRAPH_ENDPOINTS"))
	if err != nil {
		return nil, fmt.Errorf("SUBGRAPH_ENDPOINTS: %w", err)
	}
	rpcs, err := parseEndpoints(os.Getenv("RPC_ENDPOINTS"))
	if err != nil {
		return nil, fmt.Errorf("RPC_ENDPOINTS: %w", err)
	}

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		SubgraphEndpoints: subgraphs,
		RPCEndpoints:      rpcs,
		IPFSGateway:       getEnv("IPFS_GATEWAY", DefaultIPFSGateway),
		PollInterval:      getEnvDuration("POLL_INTERVAL", DefaultPollInterval),
		OTLPEndpoint:      os.Getenv("OTLP_ENDPOINT"), // Optional, traces disabled if not set
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if len(c.SubgraphEndpoints) == 0 {
		return fmt.Errorf("SUBGRAPH_ENDPOINTS is required (e.g. \"1=https://indexer.example/mainnet\")")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// parseEndpoints parses "chainID=url" pairs separated by commas,
// e.g. "1=https://a.example,100=https://b.example".
func parseEndpoints(value string) (map[int64]string, error) {
	endpoints := make(map[int64]string)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, url, ok := strings.Cut(pair, "=")
		if !ok || url == "" {
			return nil, fmt.Errorf("malformed endpoint %q, want chainID=url", pair)
		}
		chainID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed chain ID in %q", pair)
		}
		endpoints[chainID] = strings.TrimSpace(url)
	}
	return endpoints, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
