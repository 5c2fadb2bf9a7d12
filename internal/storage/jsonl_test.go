package storage

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/glider-scraper/glider/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func readLines(t *testing.T, path string) []types.Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer f.Close()

	var out []types.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r types.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		out = append(out, r)
	}
	return out
}

func TestJSONLSinkWritesOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.jsonl")
	s, err := NewJSONLSink(path, testLogger)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}

	batch := []types.Record{
		{"title": "a", "n": 1.0},
		{"title": "b", "n": 2.0},
	}
	if err := s.Store(batch); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0]["title"] != "a" || lines[1]["n"] != 2.0 {
		t.Errorf("lines = %v", lines)
	}
	if s.Count() != 2 {
		t.Errorf("count = %d", s.Count())
	}
}

func TestJSONLSinkAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.jsonl")

	s1, err := NewJSONLSink(path, testLogger)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s1.Store([]types.Record{{"run": "first"}})
	s1.Close()

	// A resumed job must continue the stream, not truncate it.
	s2, err := NewJSONLSink(path, testLogger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2.Store([]types.Record{{"run": "second"}})
	s2.Close()

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0]["run"] != "first" || lines[1]["run"] != "second" {
		t.Errorf("lines = %v", lines)
	}
}

func TestMultiSinkFansOutToAllBackends(t *testing.T) {
	dir := t.TempDir()
	a, _ := NewJSONLSink(filepath.Join(dir, "a.jsonl"), testLogger)
	b, _ := NewJSONLSink(filepath.Join(dir, "b.jsonl"), testLogger)

	m := NewMultiSink([]Sink{a, b}, testLogger)
	if err := m.Store([]types.Record{{"x": "y"}}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, path := range []string{filepath.Join(dir, "a.jsonl"), filepath.Join(dir, "b.jsonl")} {
		if lines := readLines(t, path); len(lines) != 1 {
			t.Errorf("%s: lines = %d, want 1", path, len(lines))
		}
	}
}
