package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if config.PortalURL != "https://biff.maketicket.co.kr" {
		t.Errorf("Expected default PortalURL, got '%s'", config.PortalURL)
	}

	if config.ReservationURL != "https://filmonestop.maketicket.co.kr" {
		t.Errorf("Expected default ReservationURL, got '%s'", config.ReservationURL)
	}

	if config.APIURL != "https://filmonestopapi.maketicket.co.kr" {
		t.Errorf("Expected default APIURL, got '%s'", config.APIURL)
	}

	if config.MaxConcurrency != 3 {
		t.Errorf("Expected MaxConcurrency to be 3, got %d", config.MaxConcurrency)
	}

	if config.StepTimeoutSeconds != 60 {
		t.Errorf("Expected StepTimeoutSeconds to be 60, got %d", config.StepTimeoutSeconds)
	}

	if config.OpenTimeoutSeconds != 25 {
		t.Errorf("Expected OpenTimeoutSeconds to be 25, got %d", config.OpenTimeoutSeconds)
	}

	if config.HoldTimeoutMinutes != 0 {
		t.Errorf("Expected HoldTimeoutMinutes to be 0, got %d", config.HoldTimeoutMinutes)
	}

	if !config.HoldOnSuccess {
		t.Error("Expected HoldOnSuccess to be true")
	}

	if config.Headless != false {
		t.Error("Expected Headless to be false")
	}

	if len(config.PurchasableStatusCodes) != 3 {
		t.Fatalf("Expected 3 purchasable status codes, got %d", len(config.PurchasableStatusCodes))
	}

	if config.PurchasableStatusCodes[0] != "SS01000" {
		t.Errorf("Expected primary status code SS01000, got '%s'", config.PurchasableStatusCodes[0])
	}
}

func TestClickTimeoutDuration(t *testing.T) {
	config := DefaultConfig()

	if config.ClickTimeoutMs != 10000 {
		t.Errorf("Expected ClickTimeoutMs to be 10000, got %d", config.ClickTimeoutMs)
	}
	if got := msDuration(config.ClickTimeoutMs); got != 10*time.Second {
		t.Errorf("Expected a 10s click budget, got %v", got)
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "onestop-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configPath := filepath.Join(tempDir, "test-config.yaml")

	config := DefaultConfig()
	config.ScheduleCodes = []string{"001", "911"}
	config.MaxConcurrency = 5
	config.Headless = true
	config.HoldTimeoutMinutes = 15
	config.BrowserProfilePath = filepath.Join(tempDir, "profile")

	if err := config.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loadedConfig, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(loadedConfig.ScheduleCodes) != 2 || loadedConfig.ScheduleCodes[0] != "001" {
		t.Errorf("Expected ScheduleCodes [001 911], got %v", loadedConfig.ScheduleCodes)
	}

	if loadedConfig.MaxConcurrency != config.MaxConcurrency {
		t.Errorf("Expected MaxConcurrency to be %d, got %d", config.MaxConcurrency, loadedConfig.MaxConcurrency)
	}

	if loadedConfig.Headless != config.Headless {
		t.Errorf("Expected Headless to be %v, got %v", config.Headless, loadedConfig.Headless)
	}

	if loadedConfig.HoldTimeoutMinutes != config.HoldTimeoutMinutes {
		t.Errorf("Expected HoldTimeoutMinutes to be %d, got %d", config.HoldTimeoutMinutes, loadedConfig.HoldTimeoutMinutes)
	}
}

func TestLoadConfigCreatesDefaultIfMissing(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "onestop-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configPath := filepath.Join(tempDir, "new-config.yaml")

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config == nil {
		t.Fatal("LoadConfig returned nil")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created automatically")
	}

	if config.PortalURL != "https://biff.maketicket.co.kr" {
		t.Errorf("Expected default PortalURL, got '%s'", config.PortalURL)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "onestop-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configPath := filepath.Join(tempDir, "invalid-config.yaml")

	invalidYAML := "invalid: yaml: content: [unclosed"
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to write invalid YAML: %v", err)
	}

	_, err = LoadConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid YAML, got nil")
	}
}

func TestLoadConfigClampsConcurrency(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "onestop-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configPath := filepath.Join(tempDir, "config.yaml")
	yaml := "max_concurrency: 0\nbrowser_profile_path: \"\"\n"
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.MaxConcurrency != 1 {
		t.Errorf("Expected MaxConcurrency clamped to 1, got %d", config.MaxConcurrency)
	}
}
