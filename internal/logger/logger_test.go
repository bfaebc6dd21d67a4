package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func captureEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}
	return entry
}

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)

	log.Info("test message")

	entry := captureEntry(t, &buf)
	for _, field := range []string{"timestamp", "level", "message"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("JSON log missing required field %q", field)
		}
	}
	if entry["message"] != "test message" {
		t.Errorf("message = %v, want %q", entry["message"], "test message")
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want %q", entry["level"], "info")
	}
}

func TestLogger_WarnLevelName(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)

	log.Warn("careful")

	entry := captureEntry(t, &buf)
	if entry["level"] != "warning" {
		t.Errorf("level = %v, want %q", entry["level"], "warning")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("error", &buf)

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record emitted at error level: %s", buf.String())
	}

	log.Error("kept")
	if buf.Len() == 0 {
		t.Error("error record not emitted at error level")
	}
}

func TestLogger_WithModule(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)

	log.WithModule("search").Info("test message")

	entry := captureEntry(t, &buf)
	if module, ok := entry["module"].(string); !ok || module != "search" {
		t.Errorf("WithModule() module = %v, want %q", entry["module"], "search")
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)

	log.WithError(errors.New("store unavailable")).Error("operation failed")

	entry := captureEntry(t, &buf)
	if errField, ok := entry["error"].(string); !ok || errField != "store unavailable" {
		t.Errorf("WithError() error = %v, want %q", entry["error"], "store unavailable")
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)

	log.WithFields(map[string]any{"page": 3, "degraded": true}).Info("page loaded")

	entry := captureEntry(t, &buf)
	if page, ok := entry["page"].(float64); !ok || page != 3 {
		t.Errorf("WithFields() page = %v, want 3", entry["page"])
	}
	if degraded, ok := entry["degraded"].(bool); !ok || !degraded {
		t.Errorf("WithFields() degraded = %v, want true", entry["degraded"])
	}
}

func TestLogger_Infof(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)

	log.Infof("imported %d records", 42)

	entry := captureEntry(t, &buf)
	if entry["message"] != "imported 42 records" {
		t.Errorf("Infof() message = %v, want formatted string", entry["message"])
	}
}
