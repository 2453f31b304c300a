// Package config provides centralized configuration for the coordination
// core. All pool sizing, burn, timeout, and chain-confirmation parameters
// MUST be defined here rather than hardcoded at call sites.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NetworkType represents mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Settlement chain selection
// =============================================================================

// ChainConfig names the single UTXO chain a core instance settles on and
// how many confirmations its setup/settlement transactions require before
// the coordinator advances phase.
type ChainConfig struct {
	// Symbol is the chain's registry symbol (BTC, LTC, DOGE).
	Symbol string `yaml:"symbol"`

	// RequiredConfirmations is how many confirmations a setup transaction
	// needs before AwaitSetupConfirmations treats it as final.
	RequiredConfirmations int64 `yaml:"required_confirmations"`

	// AvgBlockTimeSeconds is used only for operator-facing ETA estimates.
	AvgBlockTimeSeconds uint32 `yaml:"avg_block_time_seconds"`
}

// MainnetChainConfigs holds per-chain confirmation policy for mainnet.
var MainnetChainConfigs = map[string]ChainConfig{
	"BTC":  {Symbol: "BTC", RequiredConfirmations: 3, AvgBlockTimeSeconds: 600},
	"LTC":  {Symbol: "LTC", RequiredConfirmations: 6, AvgBlockTimeSeconds: 150},
	"DOGE": {Symbol: "DOGE", RequiredConfirmations: 6, AvgBlockTimeSeconds: 60},
}

// TestnetChainConfigs holds per-chain confirmation policy for testnet,
// using lower confirmation counts for faster iteration.
var TestnetChainConfigs = map[string]ChainConfig{
	"BTC":  {Symbol: "BTC", RequiredConfirmations: 1, AvgBlockTimeSeconds: 600},
	"LTC":  {Symbol: "LTC", RequiredConfirmations: 1, AvgBlockTimeSeconds: 150},
	"DOGE": {Symbol: "DOGE", RequiredConfirmations: 1, AvgBlockTimeSeconds: 60},
}

// GetChainConfig returns the confirmation policy for a chain symbol.
func GetChainConfig(symbol string, network NetworkType) (ChainConfig, bool) {
	if network == Testnet {
		cfg, ok := TestnetChainConfigs[symbol]
		return cfg, ok
	}
	cfg, ok := MainnetChainConfigs[symbol]
	return cfg, ok
}

// =============================================================================
// Pool policy
// =============================================================================

// BurnPolicy mirrors the pool's Sybil-defense burn parameters.
type BurnPolicy struct {
	// Percentage is the burn rate applied to each participant's input amount.
	Percentage float64 `yaml:"percentage"`

	// Min and Max clamp the computed burn amount, in the chain's smallest unit.
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

// PoolPolicy holds the pool-lifecycle parameters read from config and
// handed to swapsig.Config at pool creation.
type PoolPolicy struct {
	MinParticipants     int        `yaml:"min_participants"`
	MaxParticipants     int        `yaml:"max_participants"`
	Burn                BurnPolicy `yaml:"burn"`
	StrictMode          bool       `yaml:"strict_mode"`
	SetupTimeoutMs      int64      `yaml:"setup_timeout_ms"`
	SettlementTimeoutMs int64      `yaml:"settlement_timeout_ms"`
}

// DefaultPoolPolicy returns the pool-lifecycle defaults: 3-50 participants,
// a 0.1% burn clamped to [100, 100000], 10 minute phase timeouts.
func DefaultPoolPolicy() PoolPolicy {
	return PoolPolicy{
		MinParticipants:     3,
		MaxParticipants:     50,
		Burn:                BurnPolicy{Percentage: 0.001, Min: 100, Max: 100_000},
		StrictMode:          false,
		SetupTimeoutMs:      10 * 60 * 1000,
		SettlementTimeoutMs: 10 * 60 * 1000,
	}
}

// =============================================================================
// Logging and storage
// =============================================================================

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// =============================================================================
// Top-level core configuration
// =============================================================================

// CoreConfig is the full configuration for a coordination core instance.
type CoreConfig struct {
	NetworkType NetworkType   `yaml:"network_type"`
	Chain       ChainConfig   `yaml:"chain"`
	Pool        PoolPolicy    `yaml:"pool"`
	Logging     LoggingConfig `yaml:"logging"`
	Storage     StorageConfig `yaml:"storage"`
}

// DefaultCoreConfig returns a CoreConfig with sensible mainnet BTC defaults.
func DefaultCoreConfig() *CoreConfig {
	chainCfg, _ := GetChainConfig("BTC", Mainnet)
	return &CoreConfig{
		NetworkType: Mainnet,
		Chain:       chainCfg,
		Pool:        DefaultPoolPolicy(),
		Logging:     LoggingConfig{Level: "info"},
		Storage:     StorageConfig{DataDir: "~/.lotuscore"},
	}
}

// IsTestnet returns true if this config targets testnet.
func (c *CoreConfig) IsTestnet() bool {
	return c.NetworkType == Testnet
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file under dataDir. If the
// file doesn't exist, it creates one populated with defaults.
func LoadConfig(dataDir string) (*CoreConfig, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultCoreConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultCoreConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *CoreConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Coordination core configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
