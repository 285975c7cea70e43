package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sponsorKey = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	signerKey  = "4Nd1mYvDpq6eVuuvpTNgFanSnXimPU2ScTbJSDpbD5jB"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solreap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
rpc_endpoint: https://rpc.example.com
sponsor: `+sponsorKey+`
signer: `+signerKey+`
calls_per_second: 25
reclaim:
  min_age: 168h
  min_lamports: 890880
  dry_run: true
  allowed_controllers:
    - TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.com", cfg.RPCEndpoint)
	assert.Equal(t, 25.0, cfg.CallsPerSecond)
	assert.Equal(t, 7*24*time.Hour, cfg.Reclaim.MinAge)
	assert.True(t, cfg.Reclaim.DryRun)
	assert.Len(t, cfg.Reclaim.AllowedControllers, 1)
	// destination defaults to the sponsor
	assert.Equal(t, sponsorKey, cfg.Destination)
	// defaults survive partial files
	assert.Equal(t, 100, cfg.Discovery.PageSize)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
rpc_endpoint: https://rpc.example.com
sponsor: `+sponsorKey+`
signer: `+signerKey+`
`)

	t.Setenv("SOLREAP_CALLS_PER_SECOND", "3")
	t.Setenv("SOLREAP_DRY_RUN", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.CallsPerSecond)
	assert.True(t, cfg.Reclaim.DryRun)
}

func TestValidateFailsFast(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing sponsor", func(c *Config) { c.Sponsor = "" }, "sponsor identity is required"},
		{"malformed sponsor", func(c *Config) { c.Sponsor = "not-base58!" }, "sponsor"},
		{"missing signer", func(c *Config) { c.Signer = "" }, "signer identity is required"},
		{"zero rate", func(c *Config) { c.CallsPerSecond = 0 }, "calls_per_second"},
		{"bad page size", func(c *Config) { c.Discovery.PageSize = 0 }, "page_size"},
		{"bad batch size", func(c *Config) { c.Discovery.BatchSize = 500 }, "batch_size"},
		{"negative min age", func(c *Config) { c.Reclaim.MinAge = -time.Hour }, "min_age"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Sponsor = sponsorKey
			cfg.Signer = signerKey
			cfg.Destination = sponsorKey
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
