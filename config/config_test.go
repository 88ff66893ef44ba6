package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tithe.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:8661" {
		t.Fatalf("unexpected default rpc address %q", cfg.RPCAddress)
	}
	if cfg.DataDir != "./tithe-data" {
		t.Fatalf("unexpected default data dir %q", cfg.DataDir)
	}
	if cfg.VaultCooldownSeconds != 7*24*60*60 {
		t.Fatalf("unexpected default cooldown %d", cfg.VaultCooldownSeconds)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
	// Loading the freshly written file must yield the same configuration.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if *reloaded != *cfg {
		t.Fatalf("reload mismatch: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tithe.toml")
	body := "RPCAddress = \"0.0.0.0:9000\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("explicit value overwritten: %q", cfg.RPCAddress)
	}
	if cfg.DataDir != "./tithe-data" || cfg.VaultCooldownSeconds != 7*24*60*60 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := defaultConfig()
	cfg.FeeCollector = "0x1234"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("short fee collector accepted")
	}
	cfg = defaultConfig()
	cfg.Custody = "not-hex"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("non-hex custody accepted")
	}
	cfg = defaultConfig()
	cfg.Custody = "0x00000000000000000000000000000000000000cd"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid custody rejected: %v", err)
	}
	addr, err := cfg.CustodyAddress()
	if err != nil {
		t.Fatalf("custody parse failed: %v", err)
	}
	if addr[19] != 0xCD {
		t.Fatalf("custody parsed incorrectly: %x", addr)
	}
}

func TestBatchThresholdParsing(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinimumBatchThreshold = "1000000000000000000"
	threshold, err := cfg.BatchThreshold()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if threshold.Cmp(want) != 0 {
		t.Fatalf("threshold mismatch: %s", threshold)
	}

	cfg.MinimumBatchThreshold = "-5"
	if _, err := cfg.BatchThreshold(); err == nil {
		t.Fatalf("negative threshold accepted")
	}
	cfg.MinimumBatchThreshold = "1.5"
	if _, err := cfg.BatchThreshold(); err == nil {
		t.Fatalf("fractional threshold accepted")
	}
	cfg.MinimumBatchThreshold = ""
	threshold, err = cfg.BatchThreshold()
	if err != nil || threshold.Sign() != 0 {
		t.Fatalf("empty threshold should be zero: %s %v", threshold, err)
	}
}

func TestValidateRejectsNegativeCooldown(t *testing.T) {
	cfg := defaultConfig()
	cfg.VaultCooldownSeconds = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("negative cooldown accepted")
	}
}
