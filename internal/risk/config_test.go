package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.HardCap.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected hard cap: %s", cfg.HardCap)
	}
	if cfg.CriticalRiskThreshold != 80 {
		t.Fatalf("unexpected critical threshold: %d", cfg.CriticalRiskThreshold)
	}
	if !cfg.Trusted("0x937402B657C91D9E74FCF373187F1758C0D8E933") {
		t.Fatalf("default allowlist missing vendor address")
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
hard_cap: "100.5"
high_volume_threshold: "10"
critical_risk_threshold: 70
trusted_recipients:
  - "0xAAAA000000000000000000000000000000000001"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.HardCap.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("unexpected hard cap: %s", cfg.HardCap)
	}
	if !cfg.HighVolumeThreshold.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected volume threshold: %s", cfg.HighVolumeThreshold)
	}
	if cfg.CriticalRiskThreshold != 70 {
		t.Fatalf("unexpected critical threshold: %d", cfg.CriticalRiskThreshold)
	}
	if !cfg.Trusted("0xaaaa000000000000000000000000000000000001") {
		t.Fatalf("override allowlist missing entry")
	}
	if cfg.Trusted("0x937402b657c91d9e74fcf373187f1758c0d8e933") {
		t.Fatalf("default allowlist should be replaced, not merged")
	}
}

func TestLoadFileInvalidAmount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(`hard_cap: "not-a-number"`), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error for invalid hard_cap")
	}
}
