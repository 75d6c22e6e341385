package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
env: dev
venue:
  name: testvenue
  apiKey: foo
  apiSecret: bar
  baseURL: https://api.test
  wsURL: wss://stream.test
  streams: [orders, trades]
  confirmOnPlace: true
engine:
  idPrefix: mm
  notFoundLimit: 3
  flushIntervalMs: 500
  shortPollSec: 5
  longPollSec: 120
  pushFreshnessSec: 60
logger:
  level: info
  outputs: [stdout]
  format: json
pairs:
  ETH-USDC:
    tickSize: "0.01"
    stepSize: "0.001"
    minQty: "0.001"
    maxQty: "100"
    minNotional: "5"
    orderTypes: [LIMIT, LIMIT_MAKER]
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Venue.APIKey != "foo" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	if cfg.Engine.NotFoundLimit != 3 {
		t.Fatalf("engine config not parsed: %+v", cfg.Engine)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	t.Setenv("CONNECTOR_API_KEY", "env-key")
	t.Setenv("CONNECTOR_API_SECRET", "env-secret")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Venue.APIKey != "env-key" || cfg.Venue.APISecret != "env-secret" {
		t.Fatalf("env overrides not applied: %+v", cfg.Venue)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(AppConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestValidateOnChainRequiresSeed(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Venue.SettlesOnChain = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("settlesOnChain without seed must fail")
	}
	cfg.Venue.SubaccountSeed = "acct-1"
	// confirmOnPlace 与链上结算互斥
	if err := Validate(cfg); err == nil {
		t.Fatalf("confirmOnPlace with settlesOnChain must fail")
	}
	cfg.Venue.ConfirmOnPlace = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRules(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rules, err := cfg.Rules()
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	rule, ok := rules["ETH-USDC"]
	if !ok {
		t.Fatalf("rule missing")
	}
	if rule.TickSize.String() != "0.01" || len(rule.SupportedTypes) != 2 {
		t.Fatalf("rule not converted: %+v", rule)
	}
}

func TestLoadRejectsBadPairNumbers(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
venue: {name: testvenue, apiKey: k, apiSecret: s}
pairs:
  ETH-USDC:
    tickSize: "not-a-number"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for bad pair number")
	}
}
