package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN should be suppressed, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN and ERROR should be logged, got: %s", out)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("block mapped", KeyBlockIndex, 7, KeyPath, "data/a.bin")

	out := buf.String()
	if !strings.Contains(out, "block mapped") {
		t.Errorf("message missing from output: %s", out)
	}
	if !strings.Contains(out, "block=7") || !strings.Contains(out, "path=data/a.bin") {
		t.Errorf("structured fields missing from output: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer SetFormat("text")

	Info("set created", KeySetID, "0011223344556677", KeyBlockCount, 42)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v (%s)", err, buf.String())
	}
	if record["msg"] != "set created" {
		t.Errorf("msg = %v, want %q", record["msg"], "set created")
	}
	if record[KeySetID] != "0011223344556677" {
		t.Errorf("%s = %v, want 0011223344556677", KeySetID, record[KeySetID])
	}
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	SetLevel("NOISY")
	Info("still info")

	if !strings.Contains(buf.String(), "still info") {
		t.Errorf("invalid level should leave configuration untouched")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	l := With(KeySetID, "deadbeefdeadbeef")
	l.Info("scanning")

	out := buf.String()
	if !strings.Contains(out, "set_id=deadbeefdeadbeef") {
		t.Errorf("pre-bound attr missing: %s", out)
	}
}
