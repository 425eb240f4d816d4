package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerSetOutputsRedirectsEntries(t *testing.T) {
	l := NewLogger(DEBUG)
	var buf bytes.Buffer
	l.SetOutputs(&buf)

	l.Info("hello", String("k", "v"))

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.Message != "hello" {
		t.Fatalf("expected message %q, got %q", "hello", entry.Message)
	}
}

func TestUseRotatingFileWritesToDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixengine.log")

	rfw, err := UseRotatingFile(RotationConfig{Filename: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("UseRotatingFile: %v", err)
	}
	defer rfw.Close()
	defer SetLevel(INFO)

	SetLevel(DEBUG)
	Info("rotated entry")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "rotated entry") {
		t.Fatalf("expected log file to contain entry, got: %s", data)
	}
}

func TestTrackSessionErrorFeedsGlobalTracker(t *testing.T) {
	globalErrorTracker.Clear()
	defer globalErrorTracker.Clear()

	TrackSessionError("US-THEM", errors.New("boom"), "critical")

	stats := GetErrorStats()
	found := false
	for _, s := range stats {
		if s.Message == "boom" && s.AffectedSessions["US-THEM"] {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tracked error for session US-THEM, got %#v", stats)
	}
}

func TestErrorTrackerAlertCallbackFiresOnThreshold(t *testing.T) {
	et := NewErrorTracker()
	var fired *ErrorStats
	et.RegisterAlertCallback(func(stats *ErrorStats) { fired = stats })

	et.Track(context.Background(), errors.New("critical failure"), "critical", nil)

	if fired == nil {
		t.Fatal("expected alert callback to fire on first critical occurrence")
	}
}
