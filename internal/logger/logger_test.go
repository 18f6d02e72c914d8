package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "info", "text")

	Log.Debug("hidden")
	if buf.Len() > 0 {
		t.Error("debug message should not appear at info level")
	}

	SetLevel("debug")

	buf.Reset()
	Log.Debug("visible")
	if buf.Len() == 0 {
		t.Error("debug message should appear after SetLevel(debug)")
	}

	SetLevel("error")

	buf.Reset()
	Log.Info("hidden again")
	if buf.Len() > 0 {
		t.Error("info message should not appear at error level")
	}
}

func TestSetLevelInvalidFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "text")
	SetLevel("garbage")

	Log.Debug("should be hidden")
	if buf.Len() > 0 {
		t.Error("invalid level should fall back to info, hiding debug")
	}

	Info("should be visible")
	if buf.Len() == 0 {
		t.Error("info should be visible at info level")
	}
	if got := Level(); got != "info" {
		t.Errorf("Level() = %q, want info", got)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "info", "json")

	Info("analysis complete", "job_id", "abc", "score", 42)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "analysis complete" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["job_id"] != "abc" {
		t.Errorf("job_id = %v", entry["job_id"])
	}
}

func TestHelpersNilSafe(t *testing.T) {
	saved := Log
	Log = nil
	defer func() { Log = saved }()

	// Must not panic before Init.
	Debug("x")
	Info("x")
	Warn("x")
	Error("x")
	With("k", "v").Info("discarded")
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "info", "text")

	With("stage", "prnu").Info("done")
	if !strings.Contains(buf.String(), "stage=prnu") {
		t.Errorf("expected stage attribute in %q", buf.String())
	}
}
