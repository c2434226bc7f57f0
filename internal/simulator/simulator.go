// Package simulator publishes synthetic sensor readings for exercising the
// bridge without field hardware.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"farmbridge/internal/logging"
	"farmbridge/internal/record"
)

// Reading ranges.
const (
	HumidityMin = 30.0
	HumidityMax = 70.0
	NutrientMin = 8.0
	NutrientMax = 15.0
)

const (
	defaultSensorID = "sim-01"
	defaultInterval = 5 * time.Second
)

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// Config controls what is published and how often.
type Config struct {
	// Namespace is the topic prefix; readings go to <Namespace>/<sensor>.
	Namespace string
	Sensors   []string
	Interval  time.Duration
	// Count stops after that many readings. Zero publishes until cancelled.
	Count int
	// Mixed alternates JSON and comma-delimited payloads.
	Mixed bool
	QoS   byte

	Rand   *rand.Rand
	Now    func() time.Time
	Logger *slog.Logger
}

// Simulator generates and publishes readings.
type Simulator struct {
	pub     Publisher
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates a Simulator publishing through pub.
func New(pub Publisher, cfg Config) *Simulator {
	if len(cfg.Sensors) == 0 {
		cfg.Sensors = []string{defaultSensorID}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{
		pub:     pub,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		logger:  logging.Default(cfg.Logger).With("component", "simulator"),
		rnd:     rnd,
	}
}

// Reading builds the i-th reading: its topic and payload.
func (s *Simulator) Reading(i int) (string, []byte, error) {
	sensor := s.cfg.Sensors[i%len(s.cfg.Sensors)]

	s.mu.Lock()
	humidity := between(s.rnd, HumidityMin, HumidityMax)
	nutrient := between(s.rnd, NutrientMin, NutrientMax)
	s.mu.Unlock()

	rec := record.Record{
		SensorID:  sensor,
		Humidity:  strconv.FormatFloat(humidity, 'f', 2, 64),
		Nutrient:  strconv.FormatFloat(nutrient, 'f', 2, 64),
		Timestamp: s.cfg.Now().Format(record.TimestampLayout),
	}
	topic := sensor
	if s.cfg.Namespace != "" {
		topic = s.cfg.Namespace + "/" + sensor
	}

	if s.cfg.Mixed && i%2 == 1 {
		return topic, []byte(rec.SensorID + "," + rec.Humidity + "," + rec.Nutrient + "," + rec.Timestamp), nil
	}
	payload, err := json.Marshal(struct {
		SensorID string      `json:"sensor_id"`
		Umidade  json.Number `json:"umidade"`
		Nutrient json.Number `json:"nutriente"`
		TS       string      `json:"ts"`
	}{rec.SensorID, json.Number(rec.Humidity), json.Number(rec.Nutrient), rec.Timestamp})
	if err != nil {
		return "", nil, err
	}
	return topic, payload, nil
}

// Run publishes readings at the configured interval until Count readings
// were sent or ctx is cancelled. Cancellation is not an error.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulator started",
		"namespace", s.cfg.Namespace, "sensors", len(s.cfg.Sensors),
		"interval", s.cfg.Interval, "count", s.cfg.Count, "mixed", s.cfg.Mixed)

	sent := 0
	for s.cfg.Count == 0 || sent < s.cfg.Count {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		topic, payload, err := s.Reading(sent)
		if err != nil {
			return err
		}
		if err := s.pub.Publish(ctx, topic, s.cfg.QoS, false, payload); err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		sent++
		s.logger.Debug("reading published", "topic", topic, "payload", string(payload))
	}
	s.logger.Info("simulator stopped", "sent", sent)
	return nil
}

func between(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// ClientID derives a unique client id from base so a simulator never
// collides with the bridge session.
func ClientID(base string) string {
	return base + "-sim-" + uuid.NewString()[:8]
}

// WriterPublisher writes each payload as one line to W, ignoring the topic.
type WriterPublisher struct {
	mu sync.Mutex
	W  io.Writer
}

// Publish implements Publisher.
func (p *WriterPublisher) Publish(_ context.Context, _ string, _ byte, _ bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.W.Write(append(payload[:len(payload):len(payload)], '\n')); err != nil {
		return err
	}
	return nil
}
