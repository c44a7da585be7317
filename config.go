package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ScheduleCodes []string `yaml:"schedule_codes"`

	PortalURL      string `yaml:"portal_url"`
	ReservationURL string `yaml:"reservation_url"`
	APIURL         string `yaml:"api_url"`

	BrowserProfilePath string `yaml:"browser_profile_path"`

	MaxConcurrency int `yaml:"max_concurrency"`

	LoginTimeoutSeconds int `yaml:"login_timeout_seconds"`
	OpenTimeoutSeconds  int `yaml:"open_timeout_seconds"`
	StepTimeoutSeconds  int `yaml:"step_timeout_seconds"`
	ClickTimeoutMs      int `yaml:"click_timeout_ms"`
	StagePauseMs        int `yaml:"stage_pause_ms"`

	HoldOnSuccess      bool `yaml:"hold_on_success"`
	HoldTimeoutMinutes int  `yaml:"hold_timeout_minutes"` // 0 = hold until the operator closes the window

	PurchasableStatusCodes []string `yaml:"purchasable_status_codes"`

	ChannelCode  string `yaml:"channel_code"`
	SaleTypeCode string `yaml:"sale_type_code"`

	TraceDir string `yaml:"trace_dir"`

	Headless  bool `yaml:"headless"`
	DebugMode bool `yaml:"debug_mode"`
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		ScheduleCodes:      nil,
		PortalURL:          "https://biff.maketicket.co.kr",
		ReservationURL:     "https://filmonestop.maketicket.co.kr",
		APIURL:             "https://filmonestopapi.maketicket.co.kr",
		BrowserProfilePath: filepath.Join(userDataDir, "browser-profile"),
		MaxConcurrency:     3,
		LoginTimeoutSeconds: 150,
		OpenTimeoutSeconds:  25,
		StepTimeoutSeconds:  60,
		ClickTimeoutMs:      10000,
		StagePauseMs:        600,
		HoldOnSuccess:      true,
		HoldTimeoutMinutes: 0,
		PurchasableStatusCodes: []string{"SS01000", "SS02000", "SS03000"},
		ChannelCode:  "WEB",
		SaleTypeCode: "SALE_NORMAL",
		TraceDir:     filepath.Join(userDataDir, "traces"),
		Headless:     false,
		DebugMode:    false,
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if config.MaxConcurrency < 1 {
		config.MaxConcurrency = 1
	}
	if len(config.PurchasableStatusCodes) == 0 {
		config.PurchasableStatusCodes = DefaultConfig().PurchasableStatusCodes
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./onestop-data"
	}
	return filepath.Join(home, ".onestop")
}
