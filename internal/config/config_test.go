package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const stationSection = `[[station]]
id = "st-1"
name = "North"
min_lat = 55.0
min_lon = 37.0
max_lat = 56.0
max_lon = 38.0

[[station.line]]
id = "ln-1"
code = "L1"
name = "Cable A"
length_m = 420.5

[[station.line.node]]
id = "XT-2"
code = "XT-2"
name = "Joint 2"

[[station.line.node.sensor]]
id = "XT-2-RADAR"
type = "radar"
unit = "mm"
warning = 2.0
critical = 3.0`

func TestLoadSnapshotFromFileAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, stationSection)

	if cfg.Service.Name != "stationmon" {
		t.Fatalf("unexpected service name %q", cfg.Service.Name)
	}
	if cfg.Status.StalenessWindowSec != 300 {
		t.Fatalf("unexpected staleness window %d", cfg.Status.StalenessWindowSec)
	}
	if cfg.Status.MaxFutureSkew() != time.Minute {
		t.Fatalf("unexpected future skew %s", cfg.Status.MaxFutureSkew())
	}
	if cfg.Hub.SubscriberBuffer != 64 {
		t.Fatalf("unexpected hub buffer %d", cfg.Hub.SubscriberBuffer)
	}
	if cfg.HTTP.ReadingsPath != "/readings" || cfg.HTTP.StreamPath != "/stream" {
		t.Fatalf("unexpected http paths %+v", cfg.HTTP)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("expected console sink enabled by default")
	}
	if cfg.Relay.NATS.URL[0] != cfg.Ingest.NATS.URL[0] {
		t.Fatalf("expected relay url to default to ingest url")
	}
	sensor := cfg.Station[0].Line[0].Node[0].Sensor[0]
	if !sensor.IsEnabled() {
		t.Fatalf("expected sensor enabled by default")
	}
	if sensor.Warning == nil || *sensor.Warning != 2.0 {
		t.Fatalf("unexpected warning threshold %v", sensor.Warning)
	}
}

func TestLoadSnapshotFromDirMergesFragments(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "a.toml"), `[status]
staleness_window_sec = 60
max_future_skew_sec = 5
`)
	writeConfigFile(t, filepath.Join(tmpDir, "b.toml"), stationSection)
	writeConfigFile(t, filepath.Join(tmpDir, "c.toml"), `[[station]]
id = "st-2"
`)
	writeConfigFile(t, filepath.Join(tmpDir, "ignored.txt"), "not toml")

	cfg, err := LoadSnapshot(ConfigSource{Dir: tmpDir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Status.StalenessWindowSec != 60 {
		t.Fatalf("expected staleness override, got %d", cfg.Status.StalenessWindowSec)
	}
	if cfg.Status.MaxFutureSkewSec != 5 {
		t.Fatalf("expected future skew override, got %d", cfg.Status.MaxFutureSkewSec)
	}
	if len(cfg.Station) != 2 || cfg.Station[1].ID != "st-2" {
		t.Fatalf("expected appended stations, got %+v", cfg.Station)
	}
}

func TestLoadSnapshotRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "no stations", body: `[service]
name = "x"`, want: "at least one station"},
		{name: "bad template", body: stationSection + `
[alerts]
message_template = "{{ .NodeID "`, want: "alerts.message_template"},
		{name: "duplicate paths", body: stationSection + `
[http]
readings_path = "/metrics"`, want: "duplicates"},
		{name: "relative path", body: stationSection + `
[http]
stream_path = "ws"`, want: "must start with '/'"},
		{name: "file sink without path", body: stationSection + `
[log.file]
enabled = true`, want: "log.file.path"},
		{name: "bad level", body: stationSection + `
[log.console]
enabled = true
level = "trace"`, want: "log.console.level"},
		{name: "node without sensors", body: `[[station]]
id = "st"
[[station.line]]
id = "ln"
[[station.line.node]]
id = "n"`, want: "at least one sensor"},
		{name: "wildcard relay prefix", body: stationSection + `
[relay.nats]
enabled = true
subject_prefix = "events.>"`, want: "wildcards"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestFromCLI(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error without source")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error with both sources")
	}
	src, err := FromCLI(" a.toml ", "")
	if err != nil || src.File != "a.toml" {
		t.Fatalf("unexpected source %+v err=%v", src, err)
	}
}

func TestSensorEnabledFlagFalse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(stationSection + `
enabled = false`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Station[0].Line[0].Node[0].Sensor[0].IsEnabled() {
		t.Fatalf("expected sensor disabled")
	}
}

func mustLoadSnapshot(t *testing.T, body string) Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfigFile(t, path, body)
	cfg, err := LoadSnapshot(ConfigSource{File: path})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return cfg
}

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
