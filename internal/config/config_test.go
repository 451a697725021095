package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from an empty directory so no config.json is picked up.
	restore := chdir(t, t.TempDir())
	defer restore()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.APIPort != DefaultAPIPort {
		t.Errorf("APIPort = %s, want %s", cfg.APIPort, DefaultAPIPort)
	}
	if cfg.PollActiveMinutes != DefaultPollActiveMinutes {
		t.Errorf("PollActiveMinutes = %d, want %d", cfg.PollActiveMinutes, DefaultPollActiveMinutes)
	}
	if cfg.PollInactiveMinutes != DefaultPollInactiveMinutes {
		t.Errorf("PollInactiveMinutes = %d, want %d", cfg.PollInactiveMinutes, DefaultPollInactiveMinutes)
	}
	if cfg.AlertThreshold != DefaultAlertThreshold {
		t.Errorf("AlertThreshold = %d, want %d", cfg.AlertThreshold, DefaultAlertThreshold)
	}
	if cfg.ActiveWindow.StartHour != 8 || cfg.ActiveWindow.EndHour != 22 {
		t.Errorf("ActiveWindow = %+v, want 8-22", cfg.ActiveWindow)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	restore := chdir(t, dir)
	defer restore()

	fileContent := `{"api_port": "9000", "alert_threshold": 7}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(fileContent), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	t.Setenv("MAILMINDER_API_PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.APIPort != "9999" {
		t.Errorf("env should override file, got %s", cfg.APIPort)
	}
	if cfg.AlertThreshold != 7 {
		t.Errorf("file should override default, got %d", cfg.AlertThreshold)
	}
}

func TestLoad_InvalidAlertThresholdEnvIgnored(t *testing.T) {
	restore := chdir(t, t.TempDir())
	defer restore()

	t.Setenv("MAILMINDER_ALERT_THRESHOLD", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AlertThreshold != DefaultAlertThreshold {
		t.Errorf("bad env value should be ignored, got %d", cfg.AlertThreshold)
	}
}

func TestStatePaths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/mailminder"}

	if got := cfg.LedgerPath(); got != "/var/lib/mailminder/ledger.jsonl" {
		t.Errorf("LedgerPath = %s", got)
	}
	if got := cfg.CheckpointPath(); got != "/var/lib/mailminder/checkpoints.json" {
		t.Errorf("CheckpointPath = %s", got)
	}
	if got := cfg.DigestPath(); got != "/var/lib/mailminder/digest.json" {
		t.Errorf("DigestPath = %s", got)
	}
}

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	return func() { os.Chdir(prev) }
}
