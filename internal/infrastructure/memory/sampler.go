package memory

import (
	"fmt"
	"math"
	"runtime"
	"runtime/debug"

	"github.com/shirou/gopsutil/v3/mem"
)

// RuntimeSampler measures the Go heap against a memory ceiling.
//
// The ceiling is, in order: Limit when non-zero, the runtime soft memory
// limit (GOMEMLIMIT) when one is set, and physical memory otherwise.
type RuntimeSampler struct {
	Limit uint64
}

// Sample implements Sampler
func (s RuntimeSampler) Sample() (Usage, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	ceiling, err := s.ceiling()
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: stats.HeapAlloc + stats.StackInuse, Max: ceiling}, nil
}

func (s RuntimeSampler) ceiling() (uint64, error) {
	if s.Limit > 0 {
		return s.Limit, nil
	}
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return uint64(limit), nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read physical memory: %w", err)
	}
	return vm.Total, nil
}

// Fixed returns a sampler that always reports the given usage
func Fixed(used, max uint64) Sampler {
	return SamplerFunc(func() (Usage, error) {
		return Usage{Used: used, Max: max}, nil
	})
}

// Percent returns a sampler that reports pct percent of a 1000-unit ceiling
func Percent(pct float64) Sampler {
	return SamplerFunc(func() (Usage, error) {
		return Usage{Used: uint64(math.Round(pct * 10)), Max: 1000}, nil
	})
}
