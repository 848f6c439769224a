package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.SLA.AtRiskMinutes != 60 || cfg.SLA.RedMinutes != 120 {
		t.Errorf("SLA = %+v, want 60/120", cfg.SLA)
	}
	if cfg.Server.BasePath != "/v0" {
		t.Errorf("BasePath = %q", cfg.Server.BasePath)
	}
	if cfg.Location().String() != "UTC" {
		t.Errorf("Location = %s", cfg.Location())
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
sla:
  at_risk_minutes: 30
timeliness:
  timezone: America/Chicago
digest:
  enabled: true
  schedule: "30 6 * * *"
  days: 14
  slack_webhook_url: https://hooks.slack.test/abc
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SLA.AtRiskMinutes != 30 {
		t.Errorf("AtRiskMinutes = %d, want 30", cfg.SLA.AtRiskMinutes)
	}
	if cfg.SLA.RedMinutes != 120 {
		t.Errorf("RedMinutes = %d, want default 120", cfg.SLA.RedMinutes)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("Addr = %q, want default", cfg.Server.Addr)
	}
	if cfg.Location().String() != "America/Chicago" {
		t.Errorf("Location = %s", cfg.Location())
	}
	if !cfg.Digest.Enabled || cfg.Digest.Days != 14 {
		t.Errorf("Digest = %+v", cfg.Digest)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"negative sla": "sla:\n  red_minutes: -5\n",
		"bad timezone": "timeliness:\n  timezone: Mars/Olympus\n",
		"days too big": "timeliness:\n  default_days: 400\n",
		"bad schedule": "digest:\n  enabled: true\n  schedule: \"every day\"\n",
		"digest days":  "digest:\n  enabled: true\n  days: 0\n",
		"empty addr":   "server:\n  addr: \"\"\n",
		"invalid yaml": "sla: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error for %q", doc)
			}
		})
	}
}

func TestDisabledDigestSkipsScheduleCheck(t *testing.T) {
	if _, err := FromYAML([]byte("digest:\n  enabled: false\n  schedule: nonsense\n")); err != nil {
		t.Fatalf("disabled digest should not validate schedule: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("LoadOptional without file: cfg=%v err=%v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "opssync.yml"), []byte("server:\n  addr: 0.0.0.0:9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
}

func TestJWTSecret(t *testing.T) {
	t.Setenv("OPSSYNC_TEST_SECRET", "s3cret")
	cfg := Default()
	cfg.Auth.JWTSecretEnv = "OPSSYNC_TEST_SECRET"
	if cfg.JWTSecret() != "s3cret" {
		t.Fatalf("JWTSecret = %q", cfg.JWTSecret())
	}
}
