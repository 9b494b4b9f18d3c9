package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAssetRegistries(t *testing.T) {
	if !IsFiat("NGN") || !IsFiat("USD") {
		t.Error("NGN and USD should be supported fiat")
	}
	if IsFiat("USDT") {
		t.Error("USDT is not fiat")
	}

	if !IsCrypto("TRON", "USDT") {
		t.Error("TRON/USDT should be supported")
	}
	if IsCrypto("TRON", "BTC") {
		t.Error("TRON/BTC should not be supported")
	}

	if CryptoKey("TRON", "USDT") != "TRON/USDT" {
		t.Errorf("CryptoKey = %s", CryptoKey("TRON", "USDT"))
	}
}

func TestLoadServerWritesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadServer(dir)
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.APIAddr != "127.0.0.1:8080" {
		t.Errorf("APIAddr = %s", cfg.APIAddr)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestLoadServerEnvOverride(t *testing.T) {
	t.Setenv("RHINOX_API_ADDR", "0.0.0.0:9999")
	t.Setenv("RHINOX_LOG_LEVEL", "debug")

	cfg, err := LoadServer(t.TempDir())
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.APIAddr != "0.0.0.0:9999" {
		t.Errorf("APIAddr = %s, want env override", cfg.APIAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
}

func TestSweepIntervalWithinProcessingWindow(t *testing.T) {
	if SweepInterval.Minutes() > float64(MinProcessingTime) {
		t.Errorf("sweep interval %v exceeds minimum processing time %d min",
			SweepInterval, MinProcessingTime)
	}
}
