package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address: %s", cfg.HTTPAddress)
	}
	if cfg.DeviceLiveness != 5*time.Minute {
		t.Fatalf("unexpected device liveness: %s", cfg.DeviceLiveness)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Fatalf("unexpected store timeout: %s", cfg.StoreTimeout)
	}
	if cfg.EventLogCap != 1000 {
		t.Fatalf("unexpected event log cap: %d", cfg.EventLogCap)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()

	if _, err := Load(configViper); err == nil {
		t.Fatal("expected error for missing signing secret")
	}
}

func TestLoadRejectsNonPositiveLiveness(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("device.liveness_minutes", 0)

	if _, err := Load(configViper); err == nil {
		t.Fatal("expected error for zero liveness window")
	}
}
