package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/courierd/internal/client"
)

type fileConfig struct {
	ServerAddress   string  `toml:"server_address"`
	Version         string  `toml:"version"`
	AuthDir         string  `toml:"auth_dir"`
	LedgerPath      string  `toml:"ledger_path"`
	PluginDir       string  `toml:"plugin_dir"`
	InviteText      string  `toml:"invite_text"`
	SpamWarning     string  `toml:"spam_warning"`
	MaxPayloadBytes int     `toml:"max_payload_bytes"`
	MaxBodyRunes    int     `toml:"max_body_runes"`
	SpamThreshold   int     `toml:"spam_threshold"`
	SpamWindow      string  `toml:"spam_window"`
	BackoffInitial  string  `toml:"backoff_initial"`
	BackoffMax      string  `toml:"backoff_max"`
	BackoffMult     float64 `toml:"backoff_multiplier"`
	PairingEnabled  bool    `toml:"pairing_enabled"`
	MetricsAddr     string  `toml:"metrics_addr"`

	TLS fileTLSConfig `toml:"tls"`
}

type fileTLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	ServerName         string `toml:"server_name"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

func loadServiceConfig(path string) (client.ServiceConfig, error) {
	cfg := client.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.ServiceConfig{}, fmt.Errorf("load courier config: %w", err)
	}

	if meta.IsDefined("server_address") {
		cfg.ServerAddress = strings.TrimSpace(raw.ServerAddress)
	}

	if meta.IsDefined("version") {
		v := strings.TrimSpace(raw.Version)
		if v != "" {
			cfg.Version = v
		}
	}

	if meta.IsDefined("auth_dir") {
		dir := strings.TrimSpace(raw.AuthDir)
		if dir != "" {
			cfg.AuthDir = dir
		}
	}

	if meta.IsDefined("ledger_path") {
		p := strings.TrimSpace(raw.LedgerPath)
		if p != "" {
			cfg.LedgerPath = p
		}
	}

	if meta.IsDefined("plugin_dir") {
		cfg.PluginDir = strings.TrimSpace(raw.PluginDir)
	}

	if meta.IsDefined("invite_text") {
		cfg.InviteText = raw.InviteText
	}

	if meta.IsDefined("spam_warning") {
		cfg.SpamWarning = raw.SpamWarning
	}

	if meta.IsDefined("max_payload_bytes") {
		cfg.MaxPayloadBytes = raw.MaxPayloadBytes
	}

	if meta.IsDefined("max_body_runes") {
		cfg.MaxBodyRunes = raw.MaxBodyRunes
	}

	if meta.IsDefined("spam_threshold") {
		cfg.AntiSpam.Threshold = raw.SpamThreshold
	}

	if meta.IsDefined("spam_window") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SpamWindow))
		if err != nil {
			return client.ServiceConfig{}, fmt.Errorf("parse spam_window: %w", err)
		}
		cfg.AntiSpam.Window = d
	}

	if meta.IsDefined("backoff_initial") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffInitial))
		if err != nil {
			return client.ServiceConfig{}, fmt.Errorf("parse backoff_initial: %w", err)
		}
		cfg.Backoff.InitialDelay = d
	}

	if meta.IsDefined("backoff_max") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffMax))
		if err != nil {
			return client.ServiceConfig{}, fmt.Errorf("parse backoff_max: %w", err)
		}
		cfg.Backoff.MaxDelay = d
	}

	if meta.IsDefined("backoff_multiplier") {
		cfg.Backoff.Multiplier = raw.BackoffMult
	}

	if meta.IsDefined("pairing_enabled") {
		cfg.PairingEnabled = raw.PairingEnabled
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("tls", "enabled") {
		cfg.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "mutual") {
		cfg.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	return cfg, nil
}
