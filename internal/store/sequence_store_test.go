package store

import (
	"os"
	"testing"
)

func TestSequenceStoreDefaultsToOneOne(t *testing.T) {
	s, err := NewSequenceStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSequenceStore: %v", err)
	}
	state, err := s.Load("CLIENT")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.NextOutbound != 1 || state.NextExpectedInbound != 1 {
		t.Fatalf("expected default (1, 1), got %+v", state)
	}
}

func TestSequenceStoreSaveLoadRoundTrip(t *testing.T) {
	s, err := NewSequenceStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSequenceStore: %v", err)
	}
	want := SequenceState{NextOutbound: 42, NextExpectedInbound: 17}
	if err := s.Save("CLIENT", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load("CLIENT")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: want %+v, got %+v", want, got)
	}
}

func TestSequenceStoreSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSequenceStore(dir)
	if err != nil {
		t.Fatalf("NewSequenceStore: %v", err)
	}
	if err := s.Save("CLIENT", SequenceState{NextOutbound: 2, NextExpectedInbound: 2}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Load("CLIENT"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tempPath := s.path("CLIENT") + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		t.Fatalf("expected no leftover temp file at %s", tempPath)
	}
}

func TestSequenceStoreReset(t *testing.T) {
	s, err := NewSequenceStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSequenceStore: %v", err)
	}
	if err := s.Save("CLIENT", SequenceState{NextOutbound: 9, NextExpectedInbound: 9}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Reset("CLIENT"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, err := s.Load("CLIENT")
	if err != nil {
		t.Fatalf("Load after reset: %v", err)
	}
	if got.NextOutbound != 1 || got.NextExpectedInbound != 1 {
		t.Fatalf("expected reset to restore defaults, got %+v", got)
	}
}
