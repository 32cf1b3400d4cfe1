package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	Port int `env:"LIVE_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("LIVE_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvRequired(t *testing.T) {
	var cfg struct {
		Secret string `env:"LIVE_TEST_SECRET,required"`
	}
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected error for missing required key")
	}
	t.Setenv("LIVE_TEST_SECRET", "s3cret")
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Secret != "s3cret" {
		t.Fatalf("secret = %q", cfg.Secret)
	}
}
