package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "SUBGRAPH_ENDPOINTS", "1=https://indexer.example/mainnet")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultIPFSGateway, cfg.IPFSGateway)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, "https://indexer.example/mainnet", cfg.SubgraphEndpoints[1])
}

func TestLoad_MissingSubgraphEndpoints(t *testing.T) {
	setEnv(t, "SUBGRAPH_ENDPOINTS", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SUBGRAPH_ENDPOINTS is required")
}

func TestLoad_MultiChain(t *testing.T) {
	setEnv(t, "SUBGRAPH_ENDPOINTS", "1=https://a.example, 100=https://b.example")
	setEnv(t, "RPC_ENDPOINTS", "1=https://rpc-a.example,100=https://rpc-b.example")
	setEnv(t, "POLL_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Len(t, cfg.SubgraphEndpoints, 2)
	assert.Equal(t, "https://b.example", cfg.SubgraphEndpoints[100])
	assert.Equal(t, "https://rpc-a.example", cfg.RPCEndpoints[1])
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
}

func TestParseEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "single endpoint", value: "1=https://a.example"},
		{name: "empty value", value: ""},
		{name: "trailing comma", value: "1=https://a.example,"},
		{name: "missing separator", value: "1https://a.example", wantErr: true},
		{name: "non-numeric chain", value: "x=https://a.example", wantErr: true},
		{name: "empty url", value: "1=", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEndpoints(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DURATION", "90s")
	setEnv(t, "TEST_INVALID", "not_a_duration")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_INVALID", time.Minute)) // Falls back on parse error
}
