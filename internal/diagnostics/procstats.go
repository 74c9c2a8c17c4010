package diagnostics

import (
	"sync"
	"time"
)

// ProcessStats samples CPU% and resident set size for the /api/cpu and
// /api/memory channels. CPU% is computed from the delta in accumulated
// process CPU time between samples, divided by wall-clock elapsed time
// — the same technique top/ps use, grounded on getrusage(2)
// (RUSAGE_SELF) rather than parsing /proc text, so it works the same
// way on both platforms this module builds for.
type ProcessStats struct {
	mu           sync.Mutex
	lastCPUTime  time.Duration
	lastSampleAt time.Time
}

// NewProcessStats constructs a sampler with no prior reading.
func NewProcessStats() *ProcessStats {
	return &ProcessStats{}
}

// SampleCPUPercent returns the process's CPU utilization (0-100, may
// exceed 100 on a multi-core busy process) since the previous sample.
// The first call always returns 0, having nothing to diff against.
func (p *ProcessStats) SampleCPUPercent() float64 {
	cpuTime, err := readProcessCPUTime()
	if err != nil {
		return 0
	}
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastSampleAt.IsZero() {
		p.lastCPUTime = cpuTime
		p.lastSampleAt = now
		return 0
	}

	elapsed := now.Sub(p.lastSampleAt)
	cpuDelta := cpuTime - p.lastCPUTime
	p.lastCPUTime = cpuTime
	p.lastSampleAt = now

	if elapsed <= 0 {
		return 0
	}
	return 100 * cpuDelta.Seconds() / elapsed.Seconds()
}

// SampleResidentSetSize returns the process's peak RSS in bytes
// (getrusage ru_maxrss), not the current RSS.
func (p *ProcessStats) SampleResidentSetSize() uint64 {
	rss, err := readProcessRSS()
	if err != nil {
		return 0
	}
	return rss
}
