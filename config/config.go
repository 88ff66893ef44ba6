package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the operational wiring for the settlement daemon. The fee
// and donor split rates are engine constants, not configuration.
type Config struct {
	RPCAddress            string `toml:"RPCAddress"`
	DataDir               string `toml:"DataDir"`
	Environment           string `toml:"Environment"`
	FeeCollector          string `toml:"FeeCollector"`
	Custody               string `toml:"Custody"`
	MinimumBatchThreshold string `toml:"MinimumBatchThreshold"`
	VaultCooldownSeconds  int64  `toml:"VaultCooldownSeconds"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:            "127.0.0.1:8661",
		DataDir:               "./tithe-data",
		MinimumBatchThreshold: "0",
		VaultCooldownSeconds:  7 * 24 * 60 * 60,
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = def.RPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = def.DataDir
	}
	if strings.TrimSpace(cfg.MinimumBatchThreshold) == "" {
		cfg.MinimumBatchThreshold = def.MinimumBatchThreshold
	}
	if cfg.VaultCooldownSeconds == 0 {
		cfg.VaultCooldownSeconds = def.VaultCooldownSeconds
	}
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is self-consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if _, err := parseOptionalAddress(c.FeeCollector); err != nil {
		return fmt.Errorf("config: FeeCollector: %w", err)
	}
	if _, err := parseOptionalAddress(c.Custody); err != nil {
		return fmt.Errorf("config: Custody: %w", err)
	}
	if _, err := c.BatchThreshold(); err != nil {
		return err
	}
	if c.VaultCooldownSeconds < 0 {
		return fmt.Errorf("config: VaultCooldownSeconds must not be negative")
	}
	return nil
}

// BatchThreshold parses the minimum batch threshold into an integer amount.
func (c *Config) BatchThreshold() (*big.Int, error) {
	trimmed := strings.TrimSpace(c.MinimumBatchThreshold)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	threshold, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || threshold.Sign() < 0 {
		return nil, fmt.Errorf("config: MinimumBatchThreshold %q is not a non-negative integer", c.MinimumBatchThreshold)
	}
	return threshold, nil
}

// FeeCollectorAddress parses the configured fee collector.
func (c *Config) FeeCollectorAddress() ([20]byte, error) {
	return parseOptionalAddress(c.FeeCollector)
}

// CustodyAddress parses the configured custody account.
func (c *Config) CustodyAddress() ([20]byte, error) {
	return parseOptionalAddress(c.Custody)
}

func parseOptionalAddress(raw string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return out, nil
	}
	trimmed = strings.TrimPrefix(trimmed, "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hex address %q", raw)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("address %q must be %d bytes", raw, len(out))
	}
	copy(out[:], decoded)
	return out, nil
}
