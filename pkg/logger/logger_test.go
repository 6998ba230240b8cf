package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultsOnInvalidLevel(t *testing.T) {
	log := New(LoggingConfig{Level: "loud", Format: "text"})
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info", log.GetLevel())
	}
}

func TestNamedCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "debug", Format: "json"})
	log.SetOutput(&buf)

	log.Named("matching").WithField("match_id", "m-1").Info("accepted")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["component"] != "matching" {
		t.Errorf("component = %v, want matching", entry["component"])
	}
	if entry["match_id"] != "m-1" {
		t.Errorf("match_id = %v, want m-1", entry["match_id"])
	}
}
