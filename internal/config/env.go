package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvBroker          = "MQTT_BROKER"
	EnvPort            = "MQTT_PORT"
	EnvTopic           = "MQTT_TOPIC"
	EnvClientID        = "MQTT_CLIENT_ID"
	EnvQoS             = "MQTT_QOS"
	EnvKeepAlive       = "MQTT_KEEPALIVE"
	EnvReconnectMin    = "MQTT_RECONNECT_MIN"
	EnvReconnectMax    = "MQTT_RECONNECT_MAX"
	EnvConnectAttempts = "MQTT_CONNECT_ATTEMPTS"
	EnvStatusTopic     = "MQTT_STATUS_TOPIC"
	EnvMaxInflight     = "MQTT_MAX_INFLIGHT"
	EnvUsername        = "MQTT_USERNAME"
	EnvPassword        = "MQTT_PASSWORD" //nolint:gosec // G101: variable name, not a credential
	EnvTLS             = "MQTT_TLS"
	EnvOutCSV          = "OUT_CSV"
	EnvOutSQLite       = "OUT_SQLITE"
	EnvKafkaBrokers    = "KAFKA_BROKERS"
	EnvKafkaTopic      = "KAFKA_TOPIC"
	EnvLogLevel        = "LOG_LEVEL"
	EnvMetricsAddr     = "METRICS_ADDR"
	EnvStatsInterval   = "STATS_INTERVAL"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv returns Defaults overlaid with the process environment.
func FromEnv() (Config, error) {
	return ApplyEnv(Defaults(), os.LookupEnv)
}

// ApplyEnv overlays variables found through lookup onto cfg. Set but empty
// variables are ignored. Parse errors for every bad variable are joined.
func ApplyEnv(cfg Config, lookup LookupFunc) (Config, error) {
	e := envReader{lookup: lookup}

	e.str(EnvBroker, &cfg.Broker.Host)
	e.integer(EnvPort, &cfg.Broker.Port)
	e.str(EnvTopic, &cfg.Broker.Topic)
	e.str(EnvClientID, &cfg.Broker.ClientID)
	e.integer(EnvQoS, &cfg.Broker.QoS)
	e.duration(EnvKeepAlive, &cfg.Broker.KeepAlive)
	e.duration(EnvReconnectMin, &cfg.Broker.ReconnectMin)
	e.duration(EnvReconnectMax, &cfg.Broker.ReconnectMax)
	e.integer(EnvConnectAttempts, &cfg.Broker.ConnectAttempts)
	e.str(EnvStatusTopic, &cfg.Broker.StatusTopic)
	e.integer(EnvMaxInflight, &cfg.Broker.MaxInflight)
	e.str(EnvUsername, &cfg.Broker.Username)
	e.str(EnvPassword, &cfg.Broker.Password)
	e.boolean(EnvTLS, &cfg.Broker.TLS)

	e.str(EnvOutCSV, &cfg.Output.CSVPath)
	e.str(EnvOutSQLite, &cfg.Output.SQLitePath)
	if v, ok := e.get(EnvKafkaBrokers); ok {
		cfg.Output.KafkaBrokers = splitList(v)
	}
	e.str(EnvKafkaTopic, &cfg.Output.KafkaTopic)

	e.str(EnvLogLevel, &cfg.LogLevel)
	e.str(EnvMetricsAddr, &cfg.MetricsAddr)
	e.duration(EnvStatsInterval, &cfg.StatsInterval)
	e.duration(EnvShutdownTimeout, &cfg.ShutdownTimeout)

	return cfg, errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
