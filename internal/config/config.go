package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"crowdfund/internal/units"
)

// NetworkConfig is one entry of networks.json.
type NetworkConfig struct {
	Name       string `json:"-"`
	RPCURL     string `json:"rpcUrl"`
	Passphrase string `json:"networkPassphrase"`
	ChainID    int64  `json:"chainId"`
	Contract   string `json:"contractId"`
	Token      string `json:"tokenAddress"`
}

// NetworksFile models networks.json, keyed by network name.
type NetworksFile struct {
	Networks map[string]NetworkConfig `json:"networks"`
}

// AppConfig ties together the selected network and service settings.
type AppConfig struct {
	Network  NetworkConfig
	Service  ServiceConfig
	Chain    ChainConfig
	Campaign CampaignDefaults
	LogLevel string
}

type ServiceConfig struct {
	HTTPPort             int
	HMACSecret           string
	HMACClockSkew        time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStorePath string
	DatabaseURL          string
	FailureLogPath       string
}

type ChainConfig struct {
	PrivateKey     string
	Fake           bool
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
}

// CampaignDefaults stand in for campaign parameters when the deployed
// contract cannot serve them.
type CampaignDefaults struct {
	Goal        units.Amount
	Lifetime    time.Duration
	MinDonation units.Amount
}

// envConfig is the raw environment. Amounts are display strings.
type envConfig struct {
	NetworksPath         string        `env:"CROWDFUND_NETWORKS_PATH"          envDefault:"networks.json"`
	Network              string        `env:"CROWDFUND_NETWORK"                envDefault:"testnet"`
	RPCURL               string        `env:"CROWDFUND_RPC_URL"`
	PrivateKey           string        `env:"CROWDFUND_PRIVATE_KEY"`
	FakeChain            bool          `env:"CROWDFUND_FAKE_CHAIN"             envDefault:"false"`
	HTTPPort             int           `env:"CROWDFUND_HTTP_PORT"              envDefault:"3000"`
	HMACSecret           string        `env:"CROWDFUND_HMAC_SECRET"`
	HMACClockSkew        time.Duration `env:"CROWDFUND_HMAC_CLOCK_SKEW"        envDefault:"60s"`
	IdempotencyWindow    time.Duration `env:"CROWDFUND_IDEMPOTENCY_WINDOW"     envDefault:"24h"`
	IdempotencyStorePath string        `env:"CROWDFUND_IDEMPOTENCY_STORE_PATH"`
	DatabaseURL          string        `env:"CROWDFUND_DATABASE_URL"`
	FailureLogPath       string        `env:"CROWDFUND_FAILURE_LOG_PATH"`
	PollInterval         time.Duration `env:"CROWDFUND_POLL_INTERVAL"          envDefault:"2s"`
	ConfirmTimeout       time.Duration `env:"CROWDFUND_CONFIRM_TIMEOUT"        envDefault:"2m"`
	DefaultGoal          string        `env:"CROWDFUND_DEFAULT_GOAL"           envDefault:"100"`
	DefaultLifetime      time.Duration `env:"CROWDFUND_DEFAULT_LIFETIME"       envDefault:"720h"`
	DefaultMinDonation   string        `env:"CROWDFUND_DEFAULT_MIN_DONATION"   envDefault:"0.1"`
	LogLevel             string        `env:"CROWDFUND_LOG_LEVEL"              envDefault:"info"`
}

// Load aggregates configuration from the environment and the networks file.
// With CROWDFUND_FAKE_CHAIN set, a missing networks file is tolerated.
func Load() (*AppConfig, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	network, err := loadNetwork(raw.NetworksPath, raw.Network)
	switch {
	case err == nil:
	case raw.FakeChain && errors.Is(err, os.ErrNotExist):
		network = NetworkConfig{Name: raw.Network, Passphrase: "Fake Network ; " + raw.Network, ChainID: 1337}
	default:
		return nil, fmt.Errorf("load network: %w", err)
	}
	if raw.RPCURL != "" {
		network.RPCURL = raw.RPCURL
	}

	goal, err := units.ToBase(raw.DefaultGoal)
	if err != nil {
		return nil, fmt.Errorf("CROWDFUND_DEFAULT_GOAL: %w", err)
	}
	minDonation, err := units.ToBase(raw.DefaultMinDonation)
	if err != nil {
		return nil, fmt.Errorf("CROWDFUND_DEFAULT_MIN_DONATION: %w", err)
	}

	storePath := raw.IdempotencyStorePath
	if storePath == "" {
		storePath = filepath.Join(os.TempDir(), "crowdfund-idem.json")
	}

	return &AppConfig{
		Network: network,
		Service: ServiceConfig{
			HTTPPort:             raw.HTTPPort,
			HMACSecret:           raw.HMACSecret,
			HMACClockSkew:        raw.HMACClockSkew,
			IdempotencyWindow:    raw.IdempotencyWindow,
			IdempotencyStorePath: storePath,
			DatabaseURL:          raw.DatabaseURL,
			FailureLogPath:       raw.FailureLogPath,
		},
		Chain: ChainConfig{
			PrivateKey:     raw.PrivateKey,
			Fake:           raw.FakeChain,
			PollInterval:   raw.PollInterval,
			ConfirmTimeout: raw.ConfirmTimeout,
		},
		Campaign: CampaignDefaults{
			Goal:        goal,
			Lifetime:    raw.DefaultLifetime,
			MinDonation: minDonation,
		},
		LogLevel: raw.LogLevel,
	}, nil
}

func loadNetwork(path, name string) (NetworkConfig, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return NetworkConfig{}, err
	}
	var file NetworksFile
	if err := json.Unmarshal(blob, &file); err != nil {
		return NetworkConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	network, ok := file.Networks[name]
	if !ok {
		known := make([]string, 0, len(file.Networks))
		for k := range file.Networks {
			known = append(known, k)
		}
		return NetworkConfig{}, fmt.Errorf("network %q not in %s (have %s)", name, path, strings.Join(known, ", "))
	}
	network.Name = name
	if network.Passphrase == "" {
		return NetworkConfig{}, fmt.Errorf("network %q has no passphrase", name)
	}
	return network, nil
}
