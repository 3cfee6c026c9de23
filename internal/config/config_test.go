package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"SiteLend/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sitelend.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ============================================================================
// Test: loading
// ============================================================================

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http addr: got %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.PriceMaxAge.Duration != 30*time.Second {
		t.Errorf("price max age: got %s, want 30s", cfg.PriceMaxAge.Duration)
	}
	if cfg.PersistBatchSize != 50 {
		t.Errorf("persist batch size: got %d, want 50", cfg.PersistBatchSize)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeConfig(t, `
http_addr = ":9000"
price_max_age = "45s"
persist_batch_size = 200

[[site]]
condition_id = "cond-eth-4k"
max_ltv_bps = 7500
liquidation_threshold_bps = 8500
liquidation_target_bps = 9000
liquidation_bonus_bps = 500
protocol_fee_bps = 1000
protected_seizable = true
grace_period_seconds = 3600
rate_base_ray = "20000000000000000000000000"
optimal_utilization_bps = 8000
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("http addr: got %q, want :9000", cfg.HTTPAddr)
	}
	if cfg.PriceMaxAge.Duration != 45*time.Second {
		t.Errorf("price max age: got %s, want 45s", cfg.PriceMaxAge.Duration)
	}
	if len(cfg.Sites) != 1 {
		t.Fatalf("sites: got %d, want 1", len(cfg.Sites))
	}
	sc := cfg.Sites[0]
	if sc.ConditionID != "cond-eth-4k" || sc.MaxLtvBps != 7500 || !sc.ProtectedSeizable {
		t.Errorf("site config: %+v", sc)
	}
	if sc.RateBaseRay != "20000000000000000000000000" || sc.OptimalUtilizationBps != 8000 {
		t.Errorf("rate config: base=%q optimal=%d", sc.RateBaseRay, sc.OptimalUtilizationBps)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `http_addr = ":9000"`)
	t.Setenv("SITELEND_HTTP_ADDR", ":7777")
	t.Setenv("SITELEND_PRICE_MAX_AGE", "90s")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Errorf("http addr: got %q, want env override :7777", cfg.HTTPAddr)
	}
	if cfg.PriceMaxAge.Duration != 90*time.Second {
		t.Errorf("price max age: got %s, want 90s", cfg.PriceMaxAge.Duration)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("loading a missing file must error")
	}
}

// ============================================================================
// Test: validation
// ============================================================================

func TestLoad_DuplicateSiteRejected(t *testing.T) {
	path := writeConfig(t, `
[[site]]
condition_id = "cond-a"

[[site]]
condition_id = "cond-a"
`)
	if _, err := config.Load(path); err == nil {
		t.Error("duplicate condition_id must be rejected")
	}
}

func TestLoad_EmptyConditionRejected(t *testing.T) {
	path := writeConfig(t, `
[[site]]
max_ltv_bps = 7500
`)
	if _, err := config.Load(path); err == nil {
		t.Error("empty condition_id must be rejected")
	}
}

func TestLoad_BadBatchSizeRejected(t *testing.T) {
	path := writeConfig(t, `persist_batch_size = 0`)
	if _, err := config.Load(path); err == nil {
		t.Error("zero persist_batch_size must be rejected")
	}
}

// ============================================================================
// Test: helpers
// ============================================================================

func TestParseRay(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"empty is zero", "", "0", false},
		{"two percent", "20000000000000000000000000", "20000000000000000000000000", false},
		{"not a number", "2e25", "", true},
		{"negative", "-1", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := config.ParseRay(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && v.String() != tc.want {
				t.Errorf("got %s, want %s", v, tc.want)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d config.Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("got %s, want 1m30s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("invalid duration must error")
	}
}
