package stats

import (
	"runtime"
	"sync"
	"syscall"
	"time"
)

// cpuSampler tracks process CPU usage between successive samples.
type cpuSampler struct {
	mu       sync.Mutex
	lastWall time.Time
	lastUser time.Duration
	lastSys  time.Duration
	lastCPU  float64
}

func newCPUSampler() *cpuSampler {
	utime, stime := getrusageTimes()
	return &cpuSampler{lastWall: time.Now(), lastUser: utime, lastSys: stime}
}

// Percent returns the process CPU usage as a percentage (0-100+) since the
// previous call. Multi-core processes can exceed 100%.
func (s *cpuSampler) Percent() float64 {
	now := time.Now()
	utime, stime := getrusageTimes()

	s.mu.Lock()
	defer s.mu.Unlock()

	wall := now.Sub(s.lastWall)
	if wall <= 0 {
		return s.lastCPU
	}

	cpuDelta := (utime - s.lastUser) + (stime - s.lastSys)
	pct := float64(cpuDelta) / float64(wall) * 100.0

	s.lastWall = now
	s.lastUser = utime
	s.lastSys = stime
	s.lastCPU = pct
	return pct
}

// memoryInuse returns HeapInuse plus StackInuse, in bytes.
func memoryInuse() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapInuse + m.StackInuse)
}

func getrusageTimes() (user, sys time.Duration) {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0, 0
	}
	return time.Duration(rusage.Utime.Nano()), time.Duration(rusage.Stime.Nano())
}
