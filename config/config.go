package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	FactoryHub FactoryHubConfig `yaml:"factoryhub"`
}

// FactoryHubConfig is the project configuration.
type FactoryHubConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	State         StateConfig         `yaml:"state"`
	Fanout        FanoutConfig        `yaml:"fanout"`
	Progress      ProgressConfig      `yaml:"progress"`
	Deploy        DeployConfig        `yaml:"deploy"`
	Relay         RelayConfig         `yaml:"relay"`
	Rules         RulesConfig         `yaml:"rules"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Output        OutputConfig        `yaml:"output"`
	ReplayCapture ReplayCaptureConfig `yaml:"replay_capture"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WebhookConfig holds the shared webhook secret. An empty secret rejects
// every delivery.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// StateConfig bounds the rolling store.
type StateConfig struct {
	MaxEvents       int `yaml:"max_events"`
	MaxModules      int `yaml:"max_modules"`
	SnapshotModules int `yaml:"snapshot_modules"`
}

// FanoutConfig controls live subscriber connections.
type FanoutConfig struct {
	Buffer     int           `yaml:"buffer"`
	WriteWait  time.Duration `yaml:"write_wait"`
	PongWait   time.Duration `yaml:"pong_wait"`
	PingPeriod time.Duration `yaml:"ping_period"`
	KeepAlive  time.Duration `yaml:"sse_keepalive"`
}

// ProgressConfig points at the progress file.
type ProgressConfig struct {
	Path     string        `yaml:"path"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DeployConfig describes the running build.
type DeployConfig struct {
	SHA        string `yaml:"sha"`
	DeployedAt string `yaml:"deployed_at"`
}

// RelayConfig controls the Redis relay input.
type RelayConfig struct {
	Enabled bool        `yaml:"enabled"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig controls a Redis connection.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
	MaxLen       int64         `yaml:"max_len"`
}

// RulesConfig controls Sigma rule tagging.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PipelineConfig controls sink batching.
type PipelineConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// OutputConfig selects event sinks. Modes may combine file, http, redis
// and clickhouse; empty disables export.
type OutputConfig struct {
	Modes      []string               `yaml:"modes"`
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	Redis      RedisConfig            `yaml:"redis"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// ReplayCaptureConfig controls raw delivery capture for replay.
type ReplayCaptureConfig struct {
	Enabled bool             `yaml:"enabled"`
	File    FileOutputConfig `yaml:"file"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path     string `yaml:"path"`
	Truncate bool   `yaml:"truncate"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL          string            `yaml:"url"`
	Timeout      time.Duration     `yaml:"timeout"`
	Headers      map[string]string `yaml:"headers"`
	Secret       string            `yaml:"secret"`
	Retries      int               `yaml:"retries"`
	RetryBackoff time.Duration     `yaml:"retry_backoff"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// On reports whether metrics are served. Unset means on.
func (m MetricsConfig) On() bool {
	return m.Enabled == nil || *m.Enabled
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file. A missing file yields an
// empty configuration so the hub can run from defaults and environment.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg.FactoryHub.Logging = LoggingConfig{Enabled: true, Console: true}
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	fh := &c.FactoryHub

	if fh.Server.Host == "" {
		fh.Server.Host = "0.0.0.0"
	}
	if fh.Server.Port == 0 {
		fh.Server.Port = 8080
	}
	if fh.Server.MaxBodyBytes <= 0 {
		fh.Server.MaxBodyBytes = 1 << 20
	}
	if fh.Server.ShutdownTimeout <= 0 {
		fh.Server.ShutdownTimeout = 10 * time.Second
	}

	if fh.State.MaxEvents <= 0 {
		fh.State.MaxEvents = 300
	}
	if fh.State.MaxModules <= 0 {
		fh.State.MaxModules = 1000
	}
	if fh.State.SnapshotModules <= 0 {
		fh.State.SnapshotModules = 200
	}

	if fh.Fanout.Buffer <= 0 {
		fh.Fanout.Buffer = 64
	}
	if fh.Fanout.WriteWait <= 0 {
		fh.Fanout.WriteWait = 10 * time.Second
	}
	if fh.Fanout.PongWait <= 0 {
		fh.Fanout.PongWait = 60 * time.Second
	}
	if fh.Fanout.PingPeriod <= 0 {
		fh.Fanout.PingPeriod = fh.Fanout.PongWait * 9 / 10
	}
	if fh.Fanout.KeepAlive <= 0 {
		fh.Fanout.KeepAlive = 15 * time.Second
	}

	if fh.Progress.Path == "" {
		fh.Progress.Path = "./pipeline-progress.json"
	}
	if fh.Progress.CacheTTL <= 0 {
		fh.Progress.CacheTTL = time.Second
	}

	if fh.Relay.Redis.Addr == "" {
		fh.Relay.Redis.Addr = "127.0.0.1:6379"
	}
	if fh.Relay.Redis.Key == "" {
		fh.Relay.Redis.Key = "factoryhub:deliveries"
	}
	if fh.Relay.Redis.BlockTimeout <= 0 {
		fh.Relay.Redis.BlockTimeout = 5 * time.Second
	}

	if fh.Pipeline.QueueSize <= 0 {
		fh.Pipeline.QueueSize = 1024
	}
	if fh.Pipeline.BatchSize <= 0 {
		fh.Pipeline.BatchSize = 100
	}
	if fh.Pipeline.FlushInterval <= 0 {
		fh.Pipeline.FlushInterval = 2 * time.Second
	}

	if fh.Output.File.Path == "" {
		fh.Output.File.Path = "output/events.jsonl"
	}
	if fh.Output.Redis.Addr == "" {
		fh.Output.Redis.Addr = fh.Relay.Redis.Addr
	}
	if fh.Output.Redis.Key == "" {
		fh.Output.Redis.Key = "factoryhub:events"
	}
	if fh.Output.Redis.MaxLen <= 0 {
		fh.Output.Redis.MaxLen = 1000
	}
	if fh.Output.ClickHouse.Database == "" {
		fh.Output.ClickHouse.Database = "factoryhub"
	}
	if fh.Output.ClickHouse.Table == "" {
		fh.Output.ClickHouse.Table = "events"
	}
	if fh.ReplayCapture.File.Path == "" {
		fh.ReplayCapture.File.Path = "output/deliveries.jsonl"
	}

	if fh.Metrics.Path == "" {
		fh.Metrics.Path = "/metrics"
	}
	if fh.Logging.Level == "" {
		fh.Logging.Level = "info"
	}
}

// ApplyEnv overrides values from the process environment. Unparseable
// numbers are reported rather than silently ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	fh := &c.FactoryHub

	if v, ok := lookup("HOST"); ok && v != "" {
		fh.Server.Host = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid PORT %q", v)
		}
		fh.Server.Port = port
	}
	if v, ok := lookup("GITHUB_WEBHOOK_SECRET"); ok {
		fh.Webhook.Secret = v
	}
	if v, ok := lookup("MAX_EVENTS"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid MAX_EVENTS %q", v)
		}
		fh.State.MaxEvents = n
	}
	if v, ok := lookup("PROGRESS_PATH"); ok && v != "" {
		fh.Progress.Path = v
	}
	if v, ok := lookup("DEPLOY_SHA"); ok {
		fh.Deploy.SHA = v
	}
	if v, ok := lookup("DEPLOYED_AT"); ok {
		fh.Deploy.DeployedAt = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		fh.Logging.Level = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		fh.Relay.Redis.Addr = v
		fh.Output.Redis.Addr = v
	}
	return nil
}
