package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"stationmon/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName        = "stationmon"
	defaultSweepIntervalSec   = 15
	defaultStalenessWindowSec = 300
	defaultMaxFutureSkewSec   = 60
	defaultSubscriberBuffer   = 64
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultMetricsPath        = "/metrics"
	defaultReadingsPath       = "/readings"
	defaultStreamPath         = "/stream"
	defaultMaxBodyBytes       = 1 << 20
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultIngestSubject      = "stationmon.readings"
	defaultIngestStream       = "STATIONMON_READINGS"
	defaultIngestConsumer     = "stationmon-ingest"
	defaultIngestGroup        = "stationmon-workers"
	defaultNATSAckWaitSec     = 30
	defaultNATSNackDelayMS    = 1000
	defaultNATSMaxDeliver     = 5
	defaultNATSMaxAckPending  = 2048
	defaultRelaySubjectPrefix = "stationmon.events"
	defaultRelayStream        = "STATIONMON_EVENTS"
	defaultRelayMaxRetries    = 3
	defaultRelayRetryInitMS   = 100
	defaultRelayMaxAgeSec     = 24 * 3600
)

// Config holds service runtime settings and initial topology.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig   `toml:"service"`
	Status  StatusConfig    `toml:"status"`
	Hub     HubConfig       `toml:"hub"`
	Alerts  AlertsConfig    `toml:"alerts"`
	HTTP    HTTPConfig      `toml:"http"`
	Ingest  IngestConfig    `toml:"ingest"`
	Relay   RelayConfig     `toml:"relay"`
	Log     LogConfig       `toml:"log"`
	Station []StationConfig `toml:"station"`
}

// ServiceConfig contains process-level settings.
// Params: service name and staleness sweep interval.
// Returns: service runtime controls.
type ServiceConfig struct {
	Name             string `toml:"name"`
	SweepIntervalSec int    `toml:"sweep_interval_sec"`
}

// StatusConfig controls status derivation.
type StatusConfig struct {
	StalenessWindowSec int `toml:"staleness_window_sec"`
	MaxFutureSkewSec   int `toml:"max_future_skew_sec"`
}

// StalenessWindow returns staleness window as duration.
func (c StatusConfig) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessWindowSec) * time.Second
}

// MaxFutureSkew returns how far ahead of local clock a reading timestamp may be.
func (c StatusConfig) MaxFutureSkew() time.Duration {
	return time.Duration(c.MaxFutureSkewSec) * time.Second
}

// HubConfig controls broadcast hub buffering.
type HubConfig struct {
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// AlertsConfig controls alert rendering.
type AlertsConfig struct {
	MessageTemplate string `toml:"message_template"`
}

// HTTPConfig defines HTTP listener and route paths.
// Params: listen address, service paths, and request body limit.
// Returns: HTTP server settings.
type HTTPConfig struct {
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	ReadingsPath string `toml:"readings_path"`
	StreamPath   string `toml:"stream_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// IngestConfig groups non-HTTP reading transports.
type IngestConfig struct {
	NATS NATSIngestConfig `toml:"nats"`
}

// NATSIngestConfig defines JetStream queue consumer for readings.
// Params: URL list, subject/stream/consumer names, and ack/redelivery policy.
// Returns: NATS ingest settings.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// RelayConfig groups hub event relays.
type RelayConfig struct {
	NATS NATSRelayConfig `toml:"nats"`
}

// NATSRelayConfig defines JetStream publisher for hub events.
// Params: URL list, subject prefix, stream name, and retry policy.
// Returns: relay settings.
type NATSRelayConfig struct {
	Enabled          bool     `toml:"enabled"`
	URL              []string `toml:"url"`
	SubjectPrefix    string   `toml:"subject_prefix"`
	Stream           string   `toml:"stream"`
	MaxAgeSec        int      `toml:"max_age_sec"`
	MaxRetries       int      `toml:"max_retries"`
	RetryInitialMS   int      `toml:"retry_initial_ms"`
	SubscriberBuffer int      `toml:"subscriber_buffer"`
}

// LogConfig contains console/file logging sinks.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// StationConfig describes one station and its lines.
type StationConfig struct {
	ID     string       `toml:"id"`
	Name   string       `toml:"name"`
	MinLat float64      `toml:"min_lat"`
	MinLon float64      `toml:"min_lon"`
	MaxLat float64      `toml:"max_lat"`
	MaxLon float64      `toml:"max_lon"`
	Line   []LineConfig `toml:"line"`
}

// LineConfig describes one line and its nodes.
type LineConfig struct {
	ID       string       `toml:"id"`
	Code     string       `toml:"code"`
	Name     string       `toml:"name"`
	Status   string       `toml:"status"`
	LengthM  float64      `toml:"length_m"`
	StartLat float64      `toml:"start_lat"`
	StartLon float64      `toml:"start_lon"`
	EndLat   float64      `toml:"end_lat"`
	EndLon   float64      `toml:"end_lon"`
	Node     []NodeConfig `toml:"node"`
}

// NodeConfig describes one node, its hardware metadata, and sensors.
type NodeConfig struct {
	ID          string         `toml:"id"`
	Code        string         `toml:"code"`
	Name        string         `toml:"name"`
	Lat         float64        `toml:"lat"`
	Lon         float64        `toml:"lon"`
	Battery     float64        `toml:"battery"`
	Signal      float64        `toml:"signal"`
	Hub         bool           `toml:"hub"`
	CameraID    string         `toml:"camera_id"`
	Maintenance bool           `toml:"maintenance"`
	Sensor      []SensorConfig `toml:"sensor"`
}

// SensorConfig describes one sensor channel.
// Params: id, type, unit, optional thresholds, and optional enabled flag (default true).
// Returns: sensor provisioning data.
type SensorConfig struct {
	ID       string   `toml:"id"`
	Type     string   `toml:"type"`
	Unit     string   `toml:"unit"`
	Warning  *float64 `toml:"warning"`
	Critical *float64 `toml:"critical"`
	Enabled  *bool    `toml:"enabled"`
}

// IsEnabled returns configured enabled flag, defaulting to true.
func (s SensorConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}
	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes one TOML document, applies defaults, and validates it.
// Params: raw TOML body.
// Returns: validated config or decode/validation error.
func Parse(body []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst; stations append, non-empty sections replace.
func mergeConfig(dst *Config, src Config) {
	overlay(&dst.Service, src.Service)
	overlay(&dst.Status, src.Status)
	overlay(&dst.Hub, src.Hub)
	overlay(&dst.Alerts, src.Alerts)
	overlay(&dst.HTTP, src.HTTP)
	overlay(&dst.Ingest, src.Ingest)
	overlay(&dst.Relay, src.Relay)
	overlay(&dst.Log, src.Log)
	dst.Station = append(dst.Station, src.Station...)
}

func overlay[T any](dst *T, src T) {
	if !reflect.ValueOf(src).IsZero() {
		*dst = src
	}
}

// applyDefaults fills omitted settings.
// Params: config pointer.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.SweepIntervalSec <= 0 {
		cfg.Service.SweepIntervalSec = defaultSweepIntervalSec
	}
	if cfg.Status.StalenessWindowSec <= 0 {
		cfg.Status.StalenessWindowSec = defaultStalenessWindowSec
	}
	if cfg.Status.MaxFutureSkewSec <= 0 {
		cfg.Status.MaxFutureSkewSec = defaultMaxFutureSkewSec
	}
	if cfg.Hub.SubscriberBuffer <= 0 {
		cfg.Hub.SubscriberBuffer = defaultSubscriberBuffer
	}
	if strings.TrimSpace(cfg.Alerts.MessageTemplate) == "" {
		cfg.Alerts.MessageTemplate = templatefmt.DefaultAlertMessage
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	defaultString(&cfg.HTTP.Listen, defaultHTTPListen)
	defaultString(&cfg.HTTP.HealthPath, defaultHealthPath)
	defaultString(&cfg.HTTP.ReadyPath, defaultReadyPath)
	defaultString(&cfg.HTTP.MetricsPath, defaultMetricsPath)
	defaultString(&cfg.HTTP.ReadingsPath, defaultReadingsPath)
	defaultString(&cfg.HTTP.StreamPath, defaultStreamPath)
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	ingest := &cfg.Ingest.NATS
	ingest.URL = normalizeNATSURLs(ingest.URL)
	if len(ingest.URL) == 0 {
		ingest.URL = []string{defaultNATSURL}
	}
	defaultString(&ingest.Subject, defaultIngestSubject)
	defaultString(&ingest.Stream, defaultIngestStream)
	defaultString(&ingest.ConsumerName, defaultIngestConsumer)
	defaultString(&ingest.DeliverGroup, defaultIngestGroup)
	if ingest.AckWaitSec <= 0 {
		ingest.AckWaitSec = defaultNATSAckWaitSec
	}
	if ingest.NackDelayMS == 0 {
		ingest.NackDelayMS = defaultNATSNackDelayMS
	}
	if ingest.MaxDeliver == 0 {
		ingest.MaxDeliver = defaultNATSMaxDeliver
	}
	if ingest.MaxAckPending <= 0 {
		ingest.MaxAckPending = defaultNATSMaxAckPending
	}

	relay := &cfg.Relay.NATS
	relay.URL = normalizeNATSURLs(relay.URL)
	if len(relay.URL) == 0 {
		relay.URL = append([]string(nil), ingest.URL...)
	}
	defaultString(&relay.SubjectPrefix, defaultRelaySubjectPrefix)
	defaultString(&relay.Stream, defaultRelayStream)
	if relay.MaxAgeSec <= 0 {
		relay.MaxAgeSec = defaultRelayMaxAgeSec
	}
	if relay.MaxRetries == 0 {
		relay.MaxRetries = defaultRelayMaxRetries
	}
	if relay.RetryInitialMS <= 0 {
		relay.RetryInitialMS = defaultRelayRetryInitMS
	}
	if relay.SubscriberBuffer <= 0 {
		relay.SubscriberBuffer = cfg.Hub.SubscriberBuffer * 4
	}
}

func defaultString(value *string, fallback string) {
	if strings.TrimSpace(*value) == "" {
		*value = fallback
	}
}

// validateConfig checks settings that defaults cannot repair.
// Params: config with defaults applied.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if len(cfg.Station) == 0 {
		return errors.New("at least one station is required")
	}
	if err := templatefmt.ValidateAlertTemplate(cfg.Alerts.MessageTemplate); err != nil {
		return fmt.Errorf("alerts.message_template: %w", err)
	}
	paths := map[string]string{
		"http.health_path":   cfg.HTTP.HealthPath,
		"http.ready_path":    cfg.HTTP.ReadyPath,
		"http.metrics_path":  cfg.HTTP.MetricsPath,
		"http.readings_path": cfg.HTTP.ReadingsPath,
		"http.stream_path":   cfg.HTTP.StreamPath,
	}
	seen := make(map[string]string, len(paths))
	keys := make([]string, 0, len(paths))
	for key := range paths {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		path := paths[key]
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with '/'", key)
		}
		if other, ok := seen[path]; ok {
			return fmt.Errorf("%s duplicates %s (%q)", key, other, path)
		}
		seen[path] = key
	}

	if cfg.Ingest.NATS.Enabled {
		if cfg.Ingest.NATS.NackDelayMS < 0 {
			return errors.New("ingest.nats.nack_delay_ms must be >=0")
		}
		if cfg.Ingest.NATS.MaxDeliver == 0 || cfg.Ingest.NATS.MaxDeliver < -1 {
			return errors.New("ingest.nats.max_deliver must be -1 or >0")
		}
	}
	if cfg.Relay.NATS.Enabled {
		if cfg.Relay.NATS.MaxRetries < 0 {
			return errors.New("relay.nats.max_retries must be >=0")
		}
		if strings.Contains(cfg.Relay.NATS.SubjectPrefix, "*") || strings.Contains(cfg.Relay.NATS.SubjectPrefix, ">") {
			return errors.New("relay.nats.subject_prefix must not contain wildcards")
		}
	}

	if err := validateLogSink("log.console", cfg.Log.Console); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File); err != nil {
		return err
	}
	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when log.file.enabled=true")
	}

	for i, station := range cfg.Station {
		if strings.TrimSpace(station.ID) == "" {
			return fmt.Errorf("station[%d].id is required", i)
		}
		for j, line := range station.Line {
			if strings.TrimSpace(line.ID) == "" {
				return fmt.Errorf("station[%d].line[%d].id is required", i, j)
			}
			for k, node := range line.Node {
				if strings.TrimSpace(node.ID) == "" {
					return fmt.Errorf("station[%d].line[%d].node[%d].id is required", i, j, k)
				}
				if len(node.Sensor) == 0 {
					return fmt.Errorf("node %q must have at least one sensor", node.ID)
				}
				for m, sensor := range node.Sensor {
					if strings.TrimSpace(sensor.ID) == "" {
						return fmt.Errorf("node %q sensor[%d].id is required", node.ID, m)
					}
				}
			}
		}
	}
	return nil
}

func validateLogSink(prefix string, sink LogSinkConfig) error {
	if !sink.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", prefix, sink.Level)
	}
	switch sink.Format {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", prefix, sink.Format)
	}
	return nil
}

// normalizeNATSURLs trims URL list and drops empty entries.
func normalizeNATSURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		out = append(out, url)
	}
	return out
}
