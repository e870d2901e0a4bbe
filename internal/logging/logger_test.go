package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stationmon/internal/config"
)

func TestConsoleLineDropsTimeAndFiltersLevel(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closeFn, err := build(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "warn", Format: "line"},
	}, &out, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closeFn()

	logger.Info("hidden")
	logger.Warn("node stale", "node_id", "XT-2")

	got := out.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("info record must be filtered: %q", got)
	}
	if !strings.Contains(got, "node_id=XT-2") || strings.Contains(got, "time=") {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestConsoleColorWrapsLevel(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closeFn, err := build(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "debug", Format: "line"},
	}, &out, true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closeFn()

	logger.Error("relay failed")
	got := out.String()
	if !strings.HasPrefix(got, ansiRed) || !strings.HasSuffix(got, ansiReset+"\n") {
		t.Fatalf("expected red line, got %q", got)
	}
}

func TestFanoutWritesConsoleAndFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stationmon.log")
	var out bytes.Buffer
	logger, closeFn, err := build(config.LogConfig{
		Console: config.LogSinkConfig{Enabled: true, Level: "error", Format: "line"},
		File:    config.LogSinkConfig{Enabled: true, Level: "debug", Format: "json", Path: path},
	}, &out, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	logger.With("sensor_id", "XT-2-RADAR").Debug("reading accepted")
	closeFn()

	if out.Len() != 0 {
		t.Fatalf("console must skip debug, got %q", out.String())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &record); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	if record["msg"] != "reading accepted" || record["sensor_id"] != "XT-2-RADAR" || record["time"] == nil {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	cases := []config.LogConfig{
		{},
		{Console: config.LogSinkConfig{Enabled: true, Level: "trace", Format: "line"}},
		{Console: config.LogSinkConfig{Enabled: true, Level: "info", Format: "xml"}},
		{File: config.LogSinkConfig{Enabled: true, Level: "info", Format: "json", Path: filepath.Join(t.TempDir(), "missing", "x.log")}},
	}
	for i, cfg := range cases {
		if _, _, err := build(cfg, &bytes.Buffer{}, false); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
