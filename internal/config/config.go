package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mailminder/core/internal/gateway"
)

// JudgeConfig holds the judgment engine settings
type JudgeConfig struct {
	Provider       string `json:"provider"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Window is a time-of-day range used to pick the polling cadence.
// StartHour is inclusive, EndHour exclusive, evaluated in Timezone.
type Window struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Timezone  string `json:"timezone"`
}

// Config holds the application configuration
type Config struct {
	DataDir     string `json:"data_dir"`
	APIPort     string `json:"api_port"`
	CORSOrigins string `json:"cors_origins"`

	OwnerAddresses []string          `json:"owner_addresses"`
	Accounts       []gateway.Account `json:"accounts"`

	Judge     JudgeConfig `json:"judge"`
	NotifyURL string      `json:"notify_url"`

	PollActiveMinutes   int    `json:"poll_active_minutes"`
	PollInactiveMinutes int    `json:"poll_inactive_minutes"`
	ActiveWindow        Window `json:"active_window"`

	AlertThreshold   int `json:"alert_threshold"`
	BatchSize        int `json:"batch_size"`
	RescanDays       int `json:"rescan_days"`
	MaxBodyLen       int `json:"max_body_len"`
	LedgerMaxEntries int `json:"ledger_max_entries"`
}

// Default configuration values
const (
	DefaultDataDir             = "data"
	DefaultAPIPort             = "8080"
	DefaultCORSOrigins         = "*"
	DefaultPollActiveMinutes   = 5
	DefaultPollInactiveMinutes = 30
	DefaultAlertThreshold      = 3
	DefaultBatchSize           = 10
	DefaultRescanDays          = 7
	DefaultMaxBodyLen          = 2000
	DefaultLedgerMaxEntries    = 5000
	DefaultJudgeTimeoutSeconds = 45
)

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:             DefaultDataDir,
		APIPort:             DefaultAPIPort,
		CORSOrigins:         DefaultCORSOrigins,
		PollActiveMinutes:   DefaultPollActiveMinutes,
		PollInactiveMinutes: DefaultPollInactiveMinutes,
		ActiveWindow:        Window{StartHour: 8, EndHour: 22, Timezone: "Local"},
		AlertThreshold:      DefaultAlertThreshold,
		BatchSize:           DefaultBatchSize,
		RescanDays:          DefaultRescanDays,
		MaxBodyLen:          DefaultMaxBodyLen,
		LedgerMaxEntries:    DefaultLedgerMaxEntries,
		Judge:               JudgeConfig{Provider: "openai", TimeoutSeconds: DefaultJudgeTimeoutSeconds},
	}

	// Config file is optional; env vars still apply without one.
	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}
	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromFile loads configuration from config.json
func (c *Config) loadFromFile() error {
	configPaths := []string{
		"config.json",
		filepath.Join(c.DataDir, "config.json"),
	}

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return json.Unmarshal(data, c)
	}
	return nil
}

// loadFromEnv loads configuration overrides from environment variables
func (c *Config) loadFromEnv() {
	if val := os.Getenv("MAILMINDER_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("MAILMINDER_API_PORT"); val != "" {
		c.APIPort = val
	}
	if val := os.Getenv("MAILMINDER_CORS_ORIGINS"); val != "" {
		c.CORSOrigins = val
	}
	if val := os.Getenv("MAILMINDER_JUDGE_API_KEY"); val != "" {
		c.Judge.APIKey = val
	}
	if val := os.Getenv("MAILMINDER_JUDGE_MODEL"); val != "" {
		c.Judge.Model = val
	}
	if val := os.Getenv("MAILMINDER_NOTIFY_URL"); val != "" {
		c.NotifyURL = val
	}
	if val := os.Getenv("MAILMINDER_ALERT_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.AlertThreshold = n
		}
	}
}

// LedgerPath returns the event ledger file location
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.jsonl")
}

// CheckpointPath returns the checkpoint map file location
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.DataDir, "checkpoints.json")
}

// DigestPath returns the digest map file location
func (c *Config) DigestPath() string {
	return filepath.Join(c.DataDir, "digest.json")
}

// Save saves the current configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
