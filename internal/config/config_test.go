package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var overrideEnv = []string{
	"ENV_NAME",
	"WXSTATION_SOURCE_HOST",
	"WXSTATION_SOURCE_PORT",
	"WXAPP_OUTPUT_FILE",
	"MEMCACHED_ADDRS",
	"MQTT_BROKER",
	"MQTT_PASSWORD",
}

// inTempProject clears env overrides and runs the test from an empty project dir.
func inTempProject(t *testing.T) string {
	t.Helper()
	for _, k := range overrideEnv {
		t.Setenv(k, "")
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func writeEnvFile(t *testing.T, dir, name, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WXSTATION_SOURCE_HOST", "wx-bridge")
	t.Setenv("WXSTATION_SOURCE_PORT", "22222")
	t.Setenv("WXAPP_OUTPUT_FILE", "/var/lib/wx/latest.json")
}

// TestLoad_EnvOnlyDefaults verifies a missing config file is allowed and every default applies.
func TestLoad_EnvOnlyDefaults(t *testing.T) {
	inTempProject(t)
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name      string
		got, want interface{}
	}{
		{"StationAddress", cfg.StationAddress, "wx-bridge:22222"},
		{"ConnectTimeout", cfg.ConnectTimeout, 5 * time.Second},
		{"WakeupTimeout", cfg.WakeupTimeout, 1200 * time.Millisecond},
		{"ReadTimeout", cfg.ReadTimeout, 3 * time.Second},
		{"DrainTimeout", cfg.DrainTimeout, 100 * time.Millisecond},
		{"WakeupAttempts", cfg.WakeupAttempts, 3},
		{"PollInterval", cfg.PollInterval, time.Second},
		{"PollCount", cfg.PollCount, 1},
		{"QueueSize", cfg.QueueSize, 16},
		{"OutputMode", cfg.OutputMode, os.FileMode(0o644)},
		{"MemcachedAddrs", cfg.MemcachedAddrs, ""},
		{"MQTTBroker", cfg.MQTTBroker, ""},
		{"MQTTPort", cfg.MQTTPort, 1883},
		{"ServerPort", cfg.ServerPort, "8080"},
		{"BreakerEnabled", cfg.BreakerEnabled, false},
		{"DegradedWindow", cfg.DegradedWindow, 60 * time.Second},
		{"DegradedErrorPct", cfg.DegradedErrorPct, 50},
		{"ShutdownTimeout", cfg.ShutdownTimeout, 10 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_FileValues(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, "dev.yaml", `
station:
  host: "10.0.0.7"
  port: "23"
  wakeup_timeout: "800ms"
  drain_timeout: "250ms"
  wakeup_attempts: 5
poll:
  interval: "2s"
  count: 4
  queue_size: 0
output:
  file: "/tmp/wx.json"
  mode: "0600"
publish:
  memcached:
    addrs: "cache:11211"
    ttl: "0s"
  mqtt:
    broker: "mqtt.local"
    qos: 1
reliability:
  circuit_breaker:
    enabled: true
    failure_threshold: 10
    timeout: "1m"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StationAddress != "10.0.0.7:23" {
		t.Errorf("StationAddress = %q", cfg.StationAddress)
	}
	if cfg.WakeupTimeout != 800*time.Millisecond || cfg.WakeupAttempts != 5 {
		t.Errorf("wakeup = %v x%d, want 800ms x5", cfg.WakeupTimeout, cfg.WakeupAttempts)
	}
	if cfg.DrainTimeout != 250*time.Millisecond {
		t.Errorf("DrainTimeout = %v, want 250ms", cfg.DrainTimeout)
	}
	if cfg.PollInterval != 2*time.Second || cfg.PollCount != 4 || cfg.QueueSize != 0 {
		t.Errorf("poll = %v/%d/%d, want 2s/4/0", cfg.PollInterval, cfg.PollCount, cfg.QueueSize)
	}
	if cfg.OutputMode != 0o600 {
		t.Errorf("OutputMode = %o, want 600", cfg.OutputMode)
	}
	if cfg.MemcachedAddrs != "cache:11211" || cfg.MemcachedTTL != 0 {
		t.Errorf("memcached = %q ttl %v", cfg.MemcachedAddrs, cfg.MemcachedTTL)
	}
	if cfg.MQTTBroker != "mqtt.local" || cfg.MQTTQoS != 1 {
		t.Errorf("mqtt = %q qos %d", cfg.MQTTBroker, cfg.MQTTQoS)
	}
	if !cfg.BreakerEnabled || cfg.BreakerFailureThreshold != 10 || cfg.BreakerTimeout != time.Minute {
		t.Errorf("breaker = %v/%d/%v", cfg.BreakerEnabled, cfg.BreakerFailureThreshold, cfg.BreakerTimeout)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := inTempProject(t)
	writeEnvFile(t, dir, "prod.yaml", `
station:
  host: "file-host"
  port: "1"
output:
  file: "/file/out.json"
publish:
  memcached:
    addrs: "file-cache:11211"
`)
	setRequiredEnv(t)
	t.Setenv("ENV_NAME", "prod")
	t.Setenv("MEMCACHED_ADDRS", "env-cache:11211")
	t.Setenv("MQTT_BROKER", "env-broker")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StationAddress != "wx-bridge:22222" {
		t.Errorf("StationAddress = %q, want env value", cfg.StationAddress)
	}
	if cfg.OutputFile != "/var/lib/wx/latest.json" {
		t.Errorf("OutputFile = %q, want env value", cfg.OutputFile)
	}
	if cfg.MemcachedAddrs != "env-cache:11211" || cfg.MQTTBroker != "env-broker" {
		t.Errorf("publish overrides = %q %q", cfg.MemcachedAddrs, cfg.MQTTBroker)
	}
}

func TestLoad_MQTTPasswordFromSecretsFile(t *testing.T) {
	dir := inTempProject(t)
	setRequiredEnv(t)
	writeEnvFile(t, dir, "secrets.yaml", "mqtt_password: from-secrets\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTTPassword != "from-secrets" {
		t.Errorf("MQTTPassword = %q, want from-secrets", cfg.MQTTPassword)
	}

	t.Setenv("MQTT_PASSWORD", "from-env")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTTPassword != "from-env" {
		t.Errorf("MQTTPassword = %q, want from-env", cfg.MQTTPassword)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantMsg string
	}{
		{
			name:    "missing host",
			env:     map[string]string{"WXSTATION_SOURCE_PORT": "1", "WXAPP_OUTPUT_FILE": "/x"},
			wantMsg: "WXSTATION_SOURCE_HOST",
		},
		{
			name:    "bad port",
			env:     map[string]string{"WXSTATION_SOURCE_HOST": "h", "WXSTATION_SOURCE_PORT": "70000", "WXAPP_OUTPUT_FILE": "/x"},
			wantMsg: "port",
		},
		{
			name:    "missing output file",
			env:     map[string]string{"WXSTATION_SOURCE_HOST": "h", "WXSTATION_SOURCE_PORT": "1"},
			wantMsg: "WXAPP_OUTPUT_FILE",
		},
		{
			name:    "negative count",
			yaml:    "poll:\n  count: -1\n",
			wantMsg: "poll.count",
		},
		{
			name:    "bad mode",
			yaml:    "output:\n  mode: \"rw-r--r--\"\n",
			wantMsg: "output.mode",
		},
		{
			name:    "bad qos",
			yaml:    "publish:\n  mqtt:\n    qos: 3\n",
			wantMsg: "qos",
		},
		{
			name:    "bad yaml",
			yaml:    "station: [\n",
			wantMsg: "parse config file",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := inTempProject(t)
			if tc.env == nil {
				setRequiredEnv(t)
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if tc.yaml != "" {
				writeEnvFile(t, dir, "dev.yaml", tc.yaml)
			}

			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error, got %+v", cfg)
			}
			if cfg != nil {
				t.Fatalf("Load() expected nil config on error, got %+v", cfg)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Load() error = %v, want message containing %q", err, tc.wantMsg)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	def := 3 * time.Second
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", def},
		{"garbage", def},
		{"0s", def},
		{"-1s", def},
		{" 250ms ", 250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, def); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := parseDurationOrZero("0s", def); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}
