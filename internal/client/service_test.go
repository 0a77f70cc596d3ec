package client

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/danmuck/courierd/internal/testutil/testlog"
)

func TestNewServiceRequiresServerAddress(t *testing.T) {
	testlog.Start(t)

	if _, err := NewService(DefaultServiceConfig()); !errors.Is(err, ErrServerAddressRequired) {
		t.Fatalf("expected ErrServerAddressRequired, got %v", err)
	}
}

func TestNewServiceWiresCollaborators(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	cfg := DefaultServiceConfig()
	cfg.ServerAddress = "127.0.0.1:9400"
	cfg.AuthDir = filepath.Join(dir, "auth")
	cfg.LedgerPath = filepath.Join(dir, "ledger.json")
	cfg.PluginDir = filepath.Join(dir, "plugins")

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Controller() == nil {
		t.Fatalf("expected controller wired")
	}
	if svc.Controller().State() != StateIdle {
		t.Fatalf("expected idle before run, got %v", svc.Controller().State())
	}
}

func TestDefaultServiceConfig(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultServiceConfig()
	if cfg.Version != "courier/1.0" {
		t.Fatalf("unexpected version: %q", cfg.Version)
	}
	if !cfg.PairingEnabled {
		t.Fatalf("expected pairing enabled by default")
	}
	if cfg.AntiSpam.Threshold != 10 {
		t.Fatalf("unexpected anti-spam threshold: %d", cfg.AntiSpam.Threshold)
	}
	if cfg.Backoff.InitialDelay <= 0 {
		t.Fatalf("expected backoff defaults populated")
	}
}
