package sentry

import (
	"testing"
	"time"
)

func TestInitializeDisabledWithoutToken(t *testing.T) {
	if err := Initialize(Config{Token: ""}); err != nil {
		t.Errorf("Initialize() error = %v, want nil when disabled", err)
	}
	if IsEnabled() {
		t.Error("IsEnabled() = true without a token")
	}
}

func TestInitializeRequiresHost(t *testing.T) {
	if err := Initialize(Config{Token: "test-token", Host: ""}); err == nil {
		t.Error("Initialize() error = nil, want error when host is missing")
	}
}

func TestInitialize(t *testing.T) {
	// No t.Parallel(): the SDK keeps global state.
	err := Initialize(Config{
		Token:       "test-token",
		Host:        "errors.betterstack.com",
		Environment: "test",
		SampleRate:  1.0,
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !IsEnabled() {
		t.Error("IsEnabled() = false after initialization")
	}
	Flush(time.Second)
}

func TestInitializeDefaultSampleRate(t *testing.T) {
	err := Initialize(Config{
		Token:      "test-token-2",
		Host:       "errors.betterstack.com",
		SampleRate: 0,
	})
	if err != nil {
		t.Errorf("Initialize() error = %v, want zero rate defaulted", err)
	}
	Flush(time.Second)
}
