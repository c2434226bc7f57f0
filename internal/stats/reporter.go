package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"farmbridge/internal/logging"
)

const defaultReportInterval = 60 * time.Second

// Reporter logs a periodic summary of the counters together with process
// CPU and memory usage.
type Reporter struct {
	counters  *Counters
	interval  time.Duration
	scheduler gocron.Scheduler
	cpu       *cpuSampler
	logger    *slog.Logger

	mu   sync.Mutex
	last Snapshot
}

// NewReporter schedules the summary job. Nothing runs until Run.
func NewReporter(c *Counters, interval time.Duration, logger *slog.Logger) (*Reporter, error) {
	if c == nil {
		return nil, errors.New("stats reporter: counters are required")
	}
	if interval <= 0 {
		interval = defaultReportInterval
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create stats scheduler: %w", err)
	}
	r := &Reporter{
		counters:  c,
		interval:  interval,
		scheduler: s,
		cpu:       newCPUSampler(),
		logger:    logging.Default(logger).With("component", "stats"),
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.Report),
		gocron.WithName("stats-summary"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("create stats job: %w", err)
	}
	return r, nil
}

// Run starts the scheduler and blocks until ctx is cancelled. A final
// summary is logged on the way out.
func (r *Reporter) Run(ctx context.Context) error {
	r.scheduler.Start()
	<-ctx.Done()
	err := r.scheduler.Shutdown()
	r.Report()
	if err != nil {
		return fmt.Errorf("stop stats scheduler: %w", err)
	}
	return nil
}

// Report logs one summary line with totals and per-interval deltas.
func (r *Reporter) Report() {
	cur := r.counters.Snapshot()

	r.mu.Lock()
	prev := r.last
	r.last = cur
	r.mu.Unlock()

	r.logger.Info("bridge stats",
		"connected", cur.Connected,
		"received", cur.Received,
		"written", cur.Written,
		"rejected", cur.Rejected(),
		"append_failures", cur.AppendFailures,
		"dropped", cur.Dropped,
		"reconnects", cur.Reconnects,
		"received_delta", cur.Received-prev.Received,
		"written_delta", cur.Written-prev.Written,
		"cpu_percent", fmt.Sprintf("%.1f", r.cpu.Percent()),
		"memory_inuse", memoryInuse(),
		"goroutines", runtime.NumGoroutine(),
	)
}
