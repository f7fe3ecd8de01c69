package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const networksJSON = `{
  "networks": {
    "testnet": {
      "rpcUrl": "https://rpc.testnet.example",
      "networkPassphrase": "Test SDF Network ; September 2015",
      "chainId": 1337,
      "contractId": "0x4444444444444444444444444444444444444444",
      "tokenAddress": "0x3333333333333333333333333333333333333333"
    },
    "broken": {
      "rpcUrl": "https://rpc.broken.example"
    }
  }
}`

func writeNetworks(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "networks.json")
	require.NoError(t, os.WriteFile(path, []byte(networksJSON), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CROWDFUND_NETWORKS_PATH", writeNetworks(t))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "testnet", cfg.Network.Name)
	assert.Equal(t, "https://rpc.testnet.example", cfg.Network.RPCURL)
	assert.Equal(t, "Test SDF Network ; September 2015", cfg.Network.Passphrase)
	assert.EqualValues(t, 1337, cfg.Network.ChainID)
	assert.Equal(t, 3000, cfg.Service.HTTPPort)
	assert.Equal(t, time.Minute, cfg.Service.HMACClockSkew)
	assert.Equal(t, 24*time.Hour, cfg.Service.IdempotencyWindow)
	assert.NotEmpty(t, cfg.Service.IdempotencyStorePath)
	assert.Equal(t, 2*time.Second, cfg.Chain.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Chain.ConfirmTimeout)
	assert.EqualValues(t, 1_000_000_000, cfg.Campaign.Goal)
	assert.EqualValues(t, 1_000_000, cfg.Campaign.MinDonation)
	assert.Equal(t, 30*24*time.Hour, cfg.Campaign.Lifetime)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CROWDFUND_NETWORKS_PATH", writeNetworks(t))
	t.Setenv("CROWDFUND_RPC_URL", "http://localhost:8545")
	t.Setenv("CROWDFUND_HTTP_PORT", "8080")
	t.Setenv("CROWDFUND_CONFIRM_TIMEOUT", "45s")
	t.Setenv("CROWDFUND_DEFAULT_GOAL", "250.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.Network.RPCURL)
	assert.Equal(t, 8080, cfg.Service.HTTPPort)
	assert.Equal(t, 45*time.Second, cfg.Chain.ConfirmTimeout)
	assert.EqualValues(t, 2_505_000_000, cfg.Campaign.Goal)
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown network", map[string]string{"CROWDFUND_NETWORK": "mainnet"}},
		{"network without passphrase", map[string]string{"CROWDFUND_NETWORK": "broken"}},
		{"bad goal", map[string]string{"CROWDFUND_DEFAULT_GOAL": "lots"}},
		{"negative minimum", map[string]string{"CROWDFUND_DEFAULT_MIN_DONATION": "-1"}},
		{"bad duration", map[string]string{"CROWDFUND_POLL_INTERVAL": "often"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CROWDFUND_NETWORKS_PATH", writeNetworks(t))
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFakeChainWithoutNetworksFile(t *testing.T) {
	t.Setenv("CROWDFUND_NETWORKS_PATH", filepath.Join(t.TempDir(), "missing.json"))

	_, err := Load()
	require.Error(t, err)

	t.Setenv("CROWDFUND_FAKE_CHAIN", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Chain.Fake)
	assert.NotEmpty(t, cfg.Network.Passphrase)
}
