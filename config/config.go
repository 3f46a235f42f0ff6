package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mjasion/balena-home/dashboard/backend"
	"github.com/mjasion/balena-home/dashboard/offline"
	pkgconfig "github.com/mjasion/balena-home/dashboard/pkg/config"
	"github.com/mjasion/balena-home/dashboard/poller"
	"go.uber.org/zap"
)

// Config holds all configuration parameters for the dashboard service
type Config struct {
	// Backend configuration
	BackendURL           string `yaml:"backendUrl" env:"BACKEND_URL" env-required:"true"`
	Variant              string `yaml:"variant" env:"BACKEND_VARIANT" env-default:"snapshot"`
	RequestTimeoutMillis int    `yaml:"requestTimeoutMillis" env:"REQUEST_TIMEOUT_MILLIS" env-default:"3000"`

	// Poll periods
	Periods PeriodsConfig `yaml:"periods"`

	// Devices defaults to the variant's appliances when empty
	Devices []backend.Device `yaml:"devices"`

	// HTTP server configuration
	HTTPPort int `yaml:"httpPort" env:"HTTP_PORT" env-default:"8080"`

	// Offline cache configuration
	Offline OfflineConfig `yaml:"offline"`

	// Remote write export configuration
	Export ExportConfig `yaml:"export"`

	// Logging configuration
	Logging pkgconfig.LoggingConfig `yaml:"logging"`

	// OpenTelemetry configuration
	OpenTelemetry pkgconfig.OpenTelemetryConfig `yaml:"opentelemetry"`

	// Profiling configuration
	Profiling pkgconfig.ProfilingConfig `yaml:"profiling"`
}

// PeriodsConfig holds the poll period of every metric in milliseconds
type PeriodsConfig struct {
	CounterMillis  int `yaml:"counterMillis" env:"POLL_COUNTER_MILLIS" env-default:"1000"`
	DistanceMillis int `yaml:"distanceMillis" env:"POLL_DISTANCE_MILLIS" env-default:"1000"`
	TouchMillis    int `yaml:"touchMillis" env:"POLL_TOUCH_MILLIS" env-default:"500"`
	ClimateMillis  int `yaml:"climateMillis" env:"POLL_CLIMATE_MILLIS" env-default:"2000"`
	ModeMillis     int `yaml:"modeMillis" env:"POLL_MODE_MILLIS" env-default:"1000"`
	SnapshotMillis int `yaml:"snapshotMillis" env:"POLL_SNAPSHOT_MILLIS" env-default:"5000"`
}

// OfflineConfig configures the offline asset cache
type OfflineConfig struct {
	Enabled   bool   `yaml:"enabled" env:"OFFLINE_ENABLED" env-default:"true"`
	CacheName string `yaml:"cacheName" env:"OFFLINE_CACHE_NAME" env-default:"iot-controller-cache-v1"`
	DBPath    string `yaml:"dbPath" env:"OFFLINE_DB_PATH" env-default:"offline.db"`
	// Origin serves the dashboard pages; defaults to backendUrl
	Origin              string   `yaml:"origin" env:"OFFLINE_ORIGIN"`
	Precache            []string `yaml:"precache"`
	APIPrefixes         []string `yaml:"apiPrefixes"`
	InstallRetrySeconds int      `yaml:"installRetrySeconds" env:"OFFLINE_INSTALL_RETRY_SECONDS" env-default:"30"`
	FetchTimeoutMillis  int      `yaml:"fetchTimeoutMillis" env:"OFFLINE_FETCH_TIMEOUT_MILLIS" env-default:"10000"`
}

// ExportConfig configures Prometheus remote_write export of readings
type ExportConfig struct {
	Enabled             bool   `yaml:"enabled" env:"EXPORT_ENABLED" env-default:"false"`
	PrometheusURL       string `yaml:"prometheusUrl" env:"PROMETHEUS_URL"`
	PrometheusUsername  string `yaml:"prometheusUsername" env:"PROMETHEUS_USERNAME"`
	PrometheusPassword  string `yaml:"prometheusPassword" env:"PROMETHEUS_PASSWORD"`
	PushIntervalSeconds int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"15"`
	BatchSize           int    `yaml:"batchSize" env:"PUSH_BATCH_SIZE" env-default:"500"`
	BufferSize          int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"1000"`
}

// Load reads configuration from the specified file path and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all configuration parameters are valid and fills
// defaults that depend on other fields
func (c *Config) Validate() error {
	if err := validateHTTPURL(c.BackendURL); err != nil {
		return fmt.Errorf("invalid backendUrl: %w", err)
	}

	variant, err := backend.ParseVariant(c.Variant)
	if err != nil {
		return err
	}
	c.Variant = string(variant)

	if c.RequestTimeoutMillis <= 0 {
		return fmt.Errorf("requestTimeoutMillis must be positive, got %d", c.RequestTimeoutMillis)
	}

	for name, ms := range map[string]int{
		"counterMillis":  c.Periods.CounterMillis,
		"distanceMillis": c.Periods.DistanceMillis,
		"touchMillis":    c.Periods.TouchMillis,
		"climateMillis":  c.Periods.ClimateMillis,
		"modeMillis":     c.Periods.ModeMillis,
		"snapshotMillis": c.Periods.SnapshotMillis,
	} {
		if ms < 100 {
			return fmt.Errorf("periods.%s must be at least 100, got %d", name, ms)
		}
	}

	if len(c.Devices) == 0 {
		c.Devices = backend.DefaultDevices(variant)
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name cannot be empty", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate device %q", i, d.Name)
		}
		if d.Index < 0 {
			return fmt.Errorf("devices[%d]: index must not be negative, got %d", i, d.Index)
		}
		seen[d.Name] = true
		c.Devices[i] = d
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("httpPort must be between 1 and 65535, got %d", c.HTTPPort)
	}

	if err := c.validateOffline(); err != nil {
		return fmt.Errorf("offline validation failed: %w", err)
	}

	if err := c.validateExport(); err != nil {
		return fmt.Errorf("export validation failed: %w", err)
	}

	// Validate logging configuration
	if err := pkgconfig.ValidateLogging(&c.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	// Validate OpenTelemetry configuration
	if err := pkgconfig.ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return fmt.Errorf("opentelemetry validation failed: %w", err)
	}

	// Validate Profiling configuration
	if err := pkgconfig.ValidateProfiling(&c.Profiling); err != nil {
		return fmt.Errorf("profiling validation failed: %w", err)
	}

	return nil
}

func (c *Config) validateOffline() error {
	o := &c.Offline
	if !o.Enabled {
		return nil
	}
	if o.Origin == "" {
		o.Origin = c.BackendURL
	}
	if err := validateHTTPURL(o.Origin); err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if strings.TrimSpace(o.CacheName) == "" {
		return fmt.Errorf("cacheName cannot be empty")
	}
	if strings.TrimSpace(o.DBPath) == "" {
		return fmt.Errorf("dbPath cannot be empty")
	}
	if o.Precache == nil {
		o.Precache = append([]string(nil), offline.DefaultPrecache...)
	}
	if len(o.Precache) == 0 {
		return fmt.Errorf("precache cannot be empty")
	}
	for _, p := range o.Precache {
		if _, err := url.Parse(p); err != nil || strings.TrimSpace(p) == "" {
			return fmt.Errorf("invalid precache entry %q", p)
		}
	}
	if o.APIPrefixes == nil {
		o.APIPrefixes = append([]string(nil), offline.DefaultAPIPrefixes...)
	}
	for _, p := range o.APIPrefixes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("apiPrefixes entry %q must start with /", p)
		}
	}
	if o.InstallRetrySeconds <= 0 {
		return fmt.Errorf("installRetrySeconds must be positive, got %d", o.InstallRetrySeconds)
	}
	if o.FetchTimeoutMillis <= 0 {
		return fmt.Errorf("fetchTimeoutMillis must be positive, got %d", o.FetchTimeoutMillis)
	}
	return nil
}

func (c *Config) validateExport() error {
	e := &c.Export
	if !e.Enabled {
		return nil
	}
	if _, err := url.ParseRequestURI(e.PrometheusURL); err != nil {
		return fmt.Errorf("invalid prometheusUrl: %w", err)
	}
	if e.PushIntervalSeconds <= 0 {
		return fmt.Errorf("pushIntervalSeconds must be positive, got %d", e.PushIntervalSeconds)
	}
	if e.BatchSize <= 0 {
		return fmt.Errorf("batchSize must be positive, got %d", e.BatchSize)
	}
	if e.BufferSize <= 0 {
		return fmt.Errorf("bufferSize must be positive, got %d", e.BufferSize)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// BackendVariant returns the parsed variant; call after Validate
func (c *Config) BackendVariant() backend.Variant {
	return backend.Variant(c.Variant)
}

// RequestTimeout returns the per-request backend timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

// PollPeriods converts the configured periods for the poller
func (c *Config) PollPeriods() poller.Periods {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return poller.Periods{
		Counter:  ms(c.Periods.CounterMillis),
		Distance: ms(c.Periods.DistanceMillis),
		Touch:    ms(c.Periods.TouchMillis),
		Climate:  ms(c.Periods.ClimateMillis),
		Mode:     ms(c.Periods.ModeMillis),
		Snapshot: ms(c.Periods.SnapshotMillis),
	}
}

// DeviceNames lists the configured device names in order
func (c *Config) DeviceNames() []string {
	names := make([]string, 0, len(c.Devices))
	for _, d := range c.Devices {
		names = append(names, d.Name)
	}
	return names
}

// OfflineCacheConfig converts the offline settings for the cache
func (c *Config) OfflineCacheConfig() offline.Config {
	return offline.Config{
		Name:         c.Offline.CacheName,
		Origin:       c.Offline.Origin,
		Precache:     c.Offline.Precache,
		APIPrefixes:  c.Offline.APIPrefixes,
		FetchTimeout: time.Duration(c.Offline.FetchTimeoutMillis) * time.Millisecond,
	}
}

// Redacted returns a copy of the config with sensitive fields redacted for logging
func (c *Config) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"backendUrl":           redactURL(c.BackendURL),
		"variant":              c.Variant,
		"requestTimeoutMillis": c.RequestTimeoutMillis,
		"periods": map[string]interface{}{
			"counterMillis":  c.Periods.CounterMillis,
			"distanceMillis": c.Periods.DistanceMillis,
			"touchMillis":    c.Periods.TouchMillis,
			"climateMillis":  c.Periods.ClimateMillis,
			"modeMillis":     c.Periods.ModeMillis,
			"snapshotMillis": c.Periods.SnapshotMillis,
		},
		"devices":  c.DeviceNames(),
		"httpPort": c.HTTPPort,
		"offline": map[string]interface{}{
			"enabled":             c.Offline.Enabled,
			"cacheName":           c.Offline.CacheName,
			"dbPath":              c.Offline.DBPath,
			"origin":              redactURL(c.Offline.Origin),
			"precacheEntries":     len(c.Offline.Precache),
			"apiPrefixes":         c.Offline.APIPrefixes,
			"installRetrySeconds": c.Offline.InstallRetrySeconds,
		},
		"export": map[string]interface{}{
			"enabled":             c.Export.Enabled,
			"prometheusUrl":       redactURL(c.Export.PrometheusURL),
			"prometheusUsername":  c.Export.PrometheusUsername,
			"prometheusPassword":  "***",
			"pushIntervalSeconds": c.Export.PushIntervalSeconds,
			"bufferSize":          c.Export.BufferSize,
		},
		"logging": map[string]interface{}{
			"logFormat": c.Logging.Format,
			"logLevel":  c.Logging.Level,
		},
		"opentelemetry": map[string]interface{}{
			"enabled":        c.OpenTelemetry.Enabled,
			"serviceName":    c.OpenTelemetry.ServiceName,
			"serviceVersion": c.OpenTelemetry.ServiceVersion,
			"environment":    c.OpenTelemetry.Environment,
			"traces": map[string]interface{}{
				"enabled":       c.OpenTelemetry.Traces.Enabled,
				"endpointSet":   c.OpenTelemetry.TracesEndpoint() != "",
				"samplingRatio": c.OpenTelemetry.Traces.SamplingRatio,
			},
			"metrics": map[string]interface{}{
				"enabled":              c.OpenTelemetry.Metrics.Enabled,
				"endpointSet":          c.OpenTelemetry.MetricsEndpoint() != "",
				"intervalMillis":       c.OpenTelemetry.Metrics.IntervalMillis,
				"enableRuntimeMetrics": c.OpenTelemetry.Metrics.EnableRuntimeMetrics,
			},
		},
		"profiling": map[string]interface{}{
			"enabled":         c.Profiling.Enabled,
			"applicationName": c.Profiling.ApplicationName,
			"serverAddress":   c.Profiling.ServerAddress,
		},
	}
}

// NewLogger creates a zap logger based on the configuration
func (c *Config) NewLogger() (*zap.Logger, error) {
	return pkgconfig.NewLogger(&c.Logging)
}

// PrintConfig logs the configuration with sensitive fields masked
func (c *Config) PrintConfig(logger *zap.Logger) {
	logger.Info("configuration loaded", zap.Any("config", c.Redacted()))
}

// redactURL removes credentials from URLs for logging
func redactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword("***", "***")
	}
	return u.String()
}
