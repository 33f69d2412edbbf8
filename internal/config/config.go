package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/wx-station-poller/internal/validation"
)

// Config holds poller configuration loaded from YAML and env.
type Config struct {
	StationHost    string
	StationPort    string
	StationAddress string // validated host:port

	ConnectTimeout time.Duration
	WakeupTimeout  time.Duration
	ReadTimeout    time.Duration
	DrainTimeout   time.Duration
	WakeupAttempts int

	PollInterval time.Duration
	PollCount    int
	QueueSize    int

	OutputFile string
	OutputMode os.FileMode

	PublishTimeout time.Duration

	MemcachedAddrs        string // empty disables the memcached publisher
	MemcachedKey          string
	MemcachedTTL          time.Duration
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	MQTTBroker   string // empty disables the MQTT publisher
	MQTTPort     int
	MQTTTopic    string
	MQTTClientID string
	MQTTQoS      int
	MQTTUsername string
	MQTTPassword string

	ServerPort     string
	RateLimitRPS   int
	RateLimitBurst int

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Station struct {
		Host           string `yaml:"host"`
		Port           string `yaml:"port"`
		ConnectTimeout string `yaml:"connect_timeout"`
		WakeupTimeout  string `yaml:"wakeup_timeout"`
		ReadTimeout    string `yaml:"read_timeout"`
		DrainTimeout   string `yaml:"drain_timeout"`
		WakeupAttempts int    `yaml:"wakeup_attempts"`
	} `yaml:"station"`

	Poll struct {
		Interval  string `yaml:"interval"`
		Count     int    `yaml:"count"`
		QueueSize *int   `yaml:"queue_size"`
	} `yaml:"poll"`

	Output struct {
		File string `yaml:"file"`
		Mode string `yaml:"mode"`
	} `yaml:"output"`

	Publish struct {
		Timeout   string `yaml:"timeout"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Key          string `yaml:"key"`
			TTL          string `yaml:"ttl"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		MQTT struct {
			Broker   string `yaml:"broker"`
			Port     int    `yaml:"port"`
			Topic    string `yaml:"topic"`
			ClientID string `yaml:"client_id"`
			QoS      int    `yaml:"qos"`
			Username string `yaml:"username"`
		} `yaml:"mqtt"`
	} `yaml:"publish"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	MQTTPassword string `yaml:"mqtt_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml, both optional, then applies env overrides:
// WXSTATION_SOURCE_HOST, WXSTATION_SOURCE_PORT, WXAPP_OUTPUT_FILE,
// MEMCACHED_ADDRS, MQTT_BROKER and MQTT_PASSWORD. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	cfg.StationHost = envOr("WXSTATION_SOURCE_HOST", fc.Station.Host)
	cfg.StationPort = envOr("WXSTATION_SOURCE_PORT", fc.Station.Port)
	cfg.ConnectTimeout = parseDuration(fc.Station.ConnectTimeout, 5*time.Second)
	cfg.WakeupTimeout = parseDuration(fc.Station.WakeupTimeout, 1200*time.Millisecond)
	cfg.ReadTimeout = parseDuration(fc.Station.ReadTimeout, 3*time.Second)
	cfg.DrainTimeout = parseDuration(fc.Station.DrainTimeout, 100*time.Millisecond)
	cfg.WakeupAttempts = fc.Station.WakeupAttempts
	if cfg.WakeupAttempts <= 0 {
		cfg.WakeupAttempts = 3
	}

	cfg.PollInterval = parseDuration(fc.Poll.Interval, time.Second)
	cfg.PollCount = fc.Poll.Count
	if cfg.PollCount == 0 {
		cfg.PollCount = 1
	}
	cfg.QueueSize = 16
	if fc.Poll.QueueSize != nil {
		cfg.QueueSize = *fc.Poll.QueueSize
	}

	cfg.OutputFile = envOr("WXAPP_OUTPUT_FILE", fc.Output.File)
	cfg.OutputMode, err = parseFileMode(fc.Output.Mode, 0o644)
	if err != nil {
		return nil, err
	}

	cfg.PublishTimeout = parseDuration(fc.Publish.Timeout, 5*time.Second)

	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Publish.Memcached.Addrs)
	cfg.MemcachedKey = fc.Publish.Memcached.Key
	if cfg.MemcachedKey == "" {
		cfg.MemcachedKey = "wx:latest"
	}
	cfg.MemcachedTTL = parseDurationOrZero(fc.Publish.Memcached.TTL, 5*time.Minute)
	cfg.MemcachedTimeout = parseDuration(fc.Publish.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Publish.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.MQTTBroker = envOr("MQTT_BROKER", fc.Publish.MQTT.Broker)
	cfg.MQTTPort = fc.Publish.MQTT.Port
	if cfg.MQTTPort == 0 {
		cfg.MQTTPort = 1883
	}
	cfg.MQTTTopic = fc.Publish.MQTT.Topic
	if cfg.MQTTTopic == "" {
		cfg.MQTTTopic = "wx/station/latest"
	}
	cfg.MQTTClientID = fc.Publish.MQTT.ClientID
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "wx-station-poller"
	}
	cfg.MQTTQoS = fc.Publish.MQTT.QoS
	cfg.MQTTUsername = fc.Publish.MQTT.Username
	cfg.MQTTPassword, err = loadMQTTPassword(cwd)
	if err != nil {
		return nil, err
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.BreakerEnabled = cb.Enabled
	cfg.BreakerFailureThreshold = cb.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 1
	}
	cfg.BreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadMQTTPassword reads MQTT_PASSWORD, falling back to config/secrets.yaml.
func loadMQTTPassword(cwd string) (string, error) {
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		return v, nil
	}
	data, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.MQTTPassword, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// parseFileMode parses an octal permission string such as "0644".
func parseFileMode(s string, defaultVal os.FileMode) (os.FileMode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v == 0 || v > 0o777 {
		return 0, fmt.Errorf("output.mode must be an octal permission like 0644, got %q", s)
	}
	return os.FileMode(v), nil
}

// validate performs post-load validation and fills StationAddress.
func validate(cfg *Config) error {
	addr, err := validation.ValidateStationAddress(cfg.StationHost, cfg.StationPort)
	if err != nil {
		return fmt.Errorf("WXSTATION_SOURCE_HOST/WXSTATION_SOURCE_PORT: %w", err)
	}
	cfg.StationAddress = addr

	if strings.TrimSpace(cfg.OutputFile) == "" {
		return fmt.Errorf("WXAPP_OUTPUT_FILE required (set env or output.file)")
	}
	if cfg.PollCount < 1 {
		return fmt.Errorf("poll.count must be >= 1, got %d", cfg.PollCount)
	}
	if cfg.QueueSize < 0 {
		return fmt.Errorf("poll.queue_size must be >= 0, got %d", cfg.QueueSize)
	}
	if cfg.MQTTQoS < 0 || cfg.MQTTQoS > 2 {
		return fmt.Errorf("publish.mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTTQoS)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("lifecycle.degraded_error_pct must be <= 100, got %d", cfg.DegradedErrorPct)
	}
	if _, err := validation.ValidatePort(cfg.ServerPort); err != nil {
		return fmt.Errorf("server.port: %w", err)
	}
	return nil
}
