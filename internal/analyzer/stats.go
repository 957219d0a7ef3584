package analyzer

import (
	"time"

	gopsutilprocess "github.com/shirou/gopsutil/v3/process"
)

// Stats is a point-in-time snapshot of a supervised analyzer.
type Stats struct {
	State      State
	PID        int
	Uptime     time.Duration
	Pending    int
	MemoryRSS  uint64
	CPUPercent float64
}

// Stats returns current supervisor statistics. Process-level numbers come
// from the OS and are zero when unavailable or when nothing is running.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	proc := s.proc
	broker := s.broker
	startedAt := s.startedAt
	s.mu.Unlock()

	stats := Stats{State: s.State()}
	if broker != nil {
		stats.Pending = broker.Pending()
	}
	if proc == nil {
		return stats
	}

	stats.PID = proc.pid
	if !startedAt.IsZero() {
		stats.Uptime = time.Since(startedAt)
	}

	if p, err := gopsutilprocess.NewProcess(int32(proc.pid)); err == nil {
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			stats.MemoryRSS = mi.RSS
		}
		if cpu, err := p.CPUPercent(); err == nil {
			stats.CPUPercent = cpu
		}
	}
	return stats
}
