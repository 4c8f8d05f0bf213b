package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWriter_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false)
	defer Close()

	Info("run %s started", "r1")
	Warn("step %d slow", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if entry["level"] != "info" || entry["message"] != "run r1 started" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("entry has no timestamp")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false)
	defer Close()
	defer SetLevel("debug")

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	Debug("hidden")
	Info("hidden")
	Error("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("messages below warn were written: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("error message missing: %q", buf.String())
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) should fail")
	}
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	Info("hello %s", "file")
	if GetWriter() == nil {
		t.Error("GetWriter() = nil")
	}
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file = %q", data)
	}
}

func TestNoInit_Discards(t *testing.T) {
	Close()
	// Must not panic without Init.
	Info("nobody listens")
	Debug("nobody listens")
}
