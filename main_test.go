package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestGetUserDataDir(t *testing.T) {
	dir := getUserDataDir()

	if dir == "" {
		t.Fatal("getUserDataDir returned empty string")
	}

	if dir == "./onestop-data" {
		return // home dir unavailable, fallback is fine
	}

	if !strings.Contains(dir, ".onestop") {
		t.Errorf("Expected directory to contain '.onestop', got '%s'", dir)
	}

	if !filepath.IsAbs(dir) {
		t.Errorf("Expected an absolute path, got '%s'", dir)
	}
}

func TestIsYes(t *testing.T) {
	tests := []struct {
		answer   string
		expected bool
	}{
		{"y\n", true},
		{"yes", true},
		{"Y", true},
		{"YES ", true},
		{"n", false},
		{"", false},
		{"whatever", false},
	}

	for _, tt := range tests {
		if got := isYes(tt.answer); got != tt.expected {
			t.Errorf("isYes(%q) = %v, expected %v", tt.answer, got, tt.expected)
		}
	}
}
