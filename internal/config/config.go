// Package config defines the bridge configuration.
//
// Configuration is constructed once at startup and passed by value into each
// component's constructor; there is no package-level state. Values come
// from, in increasing precedence: built-in defaults, the environment, an
// optional YAML file, and command-line flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config is the complete bridge configuration.
type Config struct {
	Broker BrokerConfig `yaml:"broker"`
	Output OutputConfig `yaml:"output"`

	LogLevel        string   `yaml:"log_level"`
	MetricsAddr     string   `yaml:"metrics_addr"`     // "" disables the /metrics listener
	StatsInterval   Duration `yaml:"stats_interval"`   // periodic summary log; 0 disables the reporter
	ShutdownTimeout Duration `yaml:"shutdown_timeout"` // bound on each shutdown step
}

// BrokerConfig describes the MQTT connection.
type BrokerConfig struct {
	Host      string   `yaml:"host"`
	Port      int      `yaml:"port"`
	Topic     string   `yaml:"topic"`
	ClientID  string   `yaml:"client_id"`
	QoS       int      `yaml:"qos"`
	KeepAlive Duration `yaml:"keepalive"`

	ReconnectMin Duration `yaml:"reconnect_min"`
	ReconnectMax Duration `yaml:"reconnect_max"`
	// ConnectAttempts caps the initial connection attempts; 0 is unbounded.
	// Reconnects after the first successful connection are never capped.
	ConnectAttempts int `yaml:"connect_attempts"`

	StatusTopic string `yaml:"status_topic"` // "" disables the will/online announcement
	MaxInflight int    `yaml:"max_inflight"` // inbound queue cap; overflow is dropped

	Username string `yaml:"username"`
	Password string `yaml:"password"` //nolint:gosec // G117: config field, not a hardcoded credential
	TLS      bool   `yaml:"tls"`
}

// OutputConfig selects the sinks. CSVPath is the primary sink and is required;
// the others are optional secondaries.
type OutputConfig struct {
	CSVPath      string   `yaml:"csv_path"`
	SQLitePath   string   `yaml:"sqlite_path"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			Host:            "broker.hivemq.com",
			Port:            1883,
			Topic:           "farmtech/sensors/#",
			ClientID:        "farmtech-bridge-01",
			QoS:             0,
			KeepAlive:       Duration(60 * time.Second),
			ReconnectMin:    Duration(1 * time.Second),
			ReconnectMax:    Duration(120 * time.Second),
			ConnectAttempts: 10,
			StatusTopic:     "farmtech/status",
			MaxInflight:     20,
		},
		Output: OutputConfig{
			CSVPath: "db/sensors_ingest.csv",
		},
		LogLevel:        "INFO",
		StatsInterval:   Duration(60 * time.Second),
		ShutdownTimeout: Duration(5 * time.Second),
	}
}

// BrokerURL returns the paho server URL, e.g. tcp://host:1883.
func (b BrokerConfig) BrokerURL() string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// Namespace returns the topic prefix without a trailing wildcard, e.g.
// "farmtech/sensors" for "farmtech/sensors/#".
func (b BrokerConfig) Namespace() string {
	ns := strings.TrimSuffix(b.Topic, "#")
	ns = strings.TrimSuffix(ns, "+")
	return strings.TrimSuffix(ns, "/")
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	b := c.Broker
	if b.Host == "" {
		errs = append(errs, errors.New("broker host is required"))
	}
	if b.Port < 1 || b.Port > 65535 {
		errs = append(errs, fmt.Errorf("broker port %d out of range 1-65535", b.Port))
	}
	if b.Topic == "" {
		errs = append(errs, errors.New("topic is required"))
	}
	if b.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if b.QoS < 0 || b.QoS > 2 {
		errs = append(errs, fmt.Errorf("qos %d must be 0, 1 or 2", b.QoS))
	}
	if b.KeepAlive < 0 {
		errs = append(errs, errors.New("keepalive must not be negative"))
	}
	if b.ReconnectMin <= 0 {
		errs = append(errs, errors.New("reconnect min delay must be positive"))
	}
	if b.ReconnectMax < b.ReconnectMin {
		errs = append(errs, fmt.Errorf("reconnect max delay %s is below min %s", b.ReconnectMax, b.ReconnectMin))
	}
	if b.ConnectAttempts < 0 {
		errs = append(errs, errors.New("connect attempts must not be negative"))
	}
	if b.MaxInflight < 1 {
		errs = append(errs, errors.New("max inflight must be at least 1"))
	}
	if c.Output.CSVPath == "" {
		errs = append(errs, errors.New("csv output path is required"))
	}
	if (len(c.Output.KafkaBrokers) == 0) != (c.Output.KafkaTopic == "") {
		errs = append(errs, errors.New("kafka brokers and topic must be set together"))
	}
	if c.StatsInterval < 0 {
		errs = append(errs, errors.New("stats interval must not be negative"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	return errors.Join(errs...)
}
