package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Broker.BrokerURL() != "tcp://broker.hivemq.com:1883" {
		t.Errorf("unexpected broker url %q", cfg.Broker.BrokerURL())
	}
	if cfg.Broker.ReconnectMin.D() != time.Second || cfg.Broker.ReconnectMax.D() != 120*time.Second {
		t.Errorf("unexpected reconnect bounds %s..%s", cfg.Broker.ReconnectMin, cfg.Broker.ReconnectMax)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, err := ApplyEnv(Defaults(), mapLookup(map[string]string{
		EnvBroker:          "mqtt.local",
		EnvPort:            "8883",
		EnvTopic:           "farm/+/readings",
		EnvClientID:        "bridge-x",
		EnvQoS:             "1",
		EnvKeepAlive:       "30",
		EnvReconnectMin:    "2s",
		EnvReconnectMax:    "1m",
		EnvConnectAttempts: "0",
		EnvTLS:             "true",
		EnvOutCSV:          "/var/lib/farm/out.csv",
		EnvKafkaBrokers:    "k1:9092, k2:9092",
		EnvKafkaTopic:      "readings",
		EnvLogLevel:        "debug",
		EnvShutdownTimeout: "10",
		EnvMetricsAddr:     "   ",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	b := cfg.Broker
	if b.Host != "mqtt.local" || b.Port != 8883 || b.Topic != "farm/+/readings" || b.ClientID != "bridge-x" {
		t.Errorf("unexpected broker fields: %+v", b)
	}
	if b.QoS != 1 || b.KeepAlive.D() != 30*time.Second {
		t.Errorf("qos/keepalive: %d %s", b.QoS, b.KeepAlive)
	}
	if b.ReconnectMin.D() != 2*time.Second || b.ReconnectMax.D() != time.Minute {
		t.Errorf("reconnect: %s..%s", b.ReconnectMin, b.ReconnectMax)
	}
	if b.ConnectAttempts != 0 {
		t.Errorf("connect attempts: expected 0, got %d", b.ConnectAttempts)
	}
	if b.BrokerURL() != "ssl://mqtt.local:8883" {
		t.Errorf("unexpected url %q", b.BrokerURL())
	}
	if cfg.Output.CSVPath != "/var/lib/farm/out.csv" {
		t.Errorf("csv path: %q", cfg.Output.CSVPath)
	}
	if len(cfg.Output.KafkaBrokers) != 2 || cfg.Output.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("kafka brokers: %v", cfg.Output.KafkaBrokers)
	}
	if cfg.ShutdownTimeout.D() != 10*time.Second {
		t.Errorf("shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("blank env value should be ignored, got %q", cfg.MetricsAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config: %v", err)
	}
}

func TestApplyEnvErrorsAreJoined(t *testing.T) {
	_, err := ApplyEnv(Defaults(), mapLookup(map[string]string{
		EnvPort:      "eighty",
		EnvTLS:       "maybe",
		EnvKeepAlive: "forever",
	}))
	if err == nil {
		t.Fatal("expected parse errors")
	}
	for _, key := range []string{EnvPort, EnvTLS, EnvKeepAlive} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Broker.Host = "" }},
		{"port zero", func(c *Config) { c.Broker.Port = 0 }},
		{"port too large", func(c *Config) { c.Broker.Port = 70000 }},
		{"empty topic", func(c *Config) { c.Broker.Topic = "" }},
		{"empty client id", func(c *Config) { c.Broker.ClientID = "" }},
		{"qos 3", func(c *Config) { c.Broker.QoS = 3 }},
		{"zero min delay", func(c *Config) { c.Broker.ReconnectMin = 0 }},
		{"max below min", func(c *Config) { c.Broker.ReconnectMax = Duration(time.Millisecond) }},
		{"negative attempts", func(c *Config) { c.Broker.ConnectAttempts = -1 }},
		{"zero inflight", func(c *Config) { c.Broker.MaxInflight = 0 }},
		{"no csv path", func(c *Config) { c.Output.CSVPath = "" }},
		{"kafka topic without brokers", func(c *Config) { c.Output.KafkaTopic = "t" }},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyYAMLOverlay(t *testing.T) {
	base := Defaults()
	base.Broker.Host = "from-env"

	cfg, err := ApplyYAML(base, []byte(`
broker:
  topic: greenhouse/sensors/#
  reconnect_max: 30
  keepalive: 45s
output:
  sqlite_path: /data/readings.db
shutdown_timeout: 2s
`))
	if err != nil {
		t.Fatalf("ApplyYAML: %v", err)
	}
	if cfg.Broker.Host != "from-env" {
		t.Errorf("absent keys must keep previous values, got host %q", cfg.Broker.Host)
	}
	if cfg.Broker.Topic != "greenhouse/sensors/#" {
		t.Errorf("topic: %q", cfg.Broker.Topic)
	}
	if cfg.Broker.ReconnectMax.D() != 30*time.Second || cfg.Broker.KeepAlive.D() != 45*time.Second {
		t.Errorf("durations: max=%s keepalive=%s", cfg.Broker.ReconnectMax, cfg.Broker.KeepAlive)
	}
	if cfg.Output.SQLitePath != "/data/readings.db" || cfg.Output.CSVPath != base.Output.CSVPath {
		t.Errorf("output: %+v", cfg.Output)
	}
	if cfg.ShutdownTimeout.D() != 2*time.Second {
		t.Errorf("shutdown timeout: %s", cfg.ShutdownTimeout)
	}
}

func TestApplyYAMLRejectsUnknownKeys(t *testing.T) {
	if _, err := ApplyYAML(Defaults(), []byte("brokr:\n  host: x\n")); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestApplyYAMLEmpty(t *testing.T) {
	cfg, err := ApplyYAML(Defaults(), []byte("\n  \n"))
	if err != nil {
		t.Fatalf("empty document should be accepted: %v", err)
	}
	if cfg.Broker.Host != Defaults().Broker.Host {
		t.Error("empty document should not change config")
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := ApplyFile(Defaults(), path)
	if err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: %q", cfg.LogLevel)
	}

	if _, err := ApplyFile(Defaults(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"60", 60 * time.Second, true},
		{"0.5", 500 * time.Millisecond, true},
		{"1m30s", 90 * time.Second, true},
		{" 250ms ", 250 * time.Millisecond, true},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseDuration(%q) err = %v", tt.in, err)
			continue
		}
		if got.D() != tt.want {
			t.Errorf("ParseDuration(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNamespace(t *testing.T) {
	tests := map[string]string{
		"farmtech/sensors/#": "farmtech/sensors",
		"farmtech/sensors/+": "farmtech/sensors",
		"farmtech/sensors":   "farmtech/sensors",
		"#":                  "",
	}
	for topic, want := range tests {
		b := BrokerConfig{Topic: topic}
		if got := b.Namespace(); got != want {
			t.Errorf("Namespace(%q) = %q, want %q", topic, got, want)
		}
	}
}
