package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug().Str("module", "session").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if line["module"] != "session" || line["message"] != "hello" || line["level"] != "debug" {
		t.Errorf("unexpected line: %v", line)
	}
}

func TestNewWithWriter_Levels(t *testing.T) {
	tests := []struct {
		level   string
		logs    bool
		wantErr bool
	}{
		{"info", true, false},
		{"warn", false, false},
		{"none", false, false},
		{"loud", false, true},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		log, err := NewWithWriter(&buf, tt.level, "console")
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: expected error=%v, got %v", tt.level, tt.wantErr, err)
			continue
		}
		log.Info().Msg("joined room")
		if got := strings.Contains(buf.String(), "joined room"); got != tt.logs {
			t.Errorf("%s: expected info output=%v, got %q", tt.level, tt.logs, buf.String())
		}
	}
}

func TestNewWithWriter_UnknownFormat(t *testing.T) {
	if _, err := NewWithWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("expected an unknown format to be rejected")
	}
}
