package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug("pushed", "element", "{move, 0}")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["msg"] != "pushed" || rec["element"] != "{move, 0}" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestLevels(t *testing.T) {
	lvl, err := ParseLevel("warn")
	if err != nil || lvl != slog.LevelWarn {
		t.Fatalf("expected warn, got %v err=%v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := NewWithWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
