// Package memory samples this process's resident memory from the OS
// process table (not Go's own heap statistics) so the Event
// Aggregator's memory-pressure model reacts to the same figure an
// operator watching `ps`/cgroup accounting would see.
package memory

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// PressureLevel is the four-tier reaction scale the aggregator's
// eviction policy keys on.
type PressureLevel string

const (
	PressureLow      PressureLevel = "low"
	PressureMedium   PressureLevel = "medium"
	PressureHigh     PressureLevel = "high"
	PressureCritical PressureLevel = "critical"
)

// Sampler reads the current process's RSS on demand.
type Sampler struct {
	proc  *process.Process
	maxMB float64
}

func NewSampler(maxMB float64) (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{proc: p, maxMB: maxMB}, nil
}

// ResidentMB returns current RSS in megabytes.
func (s *Sampler) ResidentMB() (float64, error) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / (1024 * 1024), nil
}

// Level samples RSS and classifies it against the configured limit at
// the 0.95/0.80/0.60 breakpoints.
func (s *Sampler) Level() (PressureLevel, error) {
	rss, err := s.ResidentMB()
	if err != nil {
		return PressureLow, err
	}
	if s.maxMB <= 0 {
		return PressureLow, nil
	}
	ratio := rss / s.maxMB
	switch {
	case ratio >= 0.95:
		return PressureCritical, nil
	case ratio >= 0.80:
		return PressureHigh, nil
	case ratio >= 0.60:
		return PressureMedium, nil
	default:
		return PressureLow, nil
	}
}
