//go:build unix

package executor

import (
	"syscall"
	"time"

	"github.com/flowplane/flowplane/model"
)

type usageSample struct {
	userTime   time.Duration
	systemTime time.Duration
	maxRSS     int64
}

func sampleUsage() usageSample {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return usageSample{}
	}
	return usageSample{
		userTime:   time.Duration(ru.Utime.Nano()),
		systemTime: time.Duration(ru.Stime.Nano()),
		maxRSS:     int64(ru.Maxrss) * 1024,
	}
}

// usageDelta approximates the resource cost of one execution from
// process-wide counters sampled before and after. CPU times are deltas;
// peak RSS is the process high-water mark at completion, which is the
// closest observable stand-in without per-goroutine accounting.
func usageDelta(start usageSample, end usageSample) model.ResourceMetrics {
	user := end.userTime - start.userTime
	system := end.systemTime - start.systemTime
	if user < 0 {
		user = 0
	}
	if system < 0 {
		system = 0
	}
	return model.ResourceMetrics{
		PeakMemoryBytes: end.maxRSS,
		UserCPUMillis:   user.Milliseconds(),
		SystemCPUMillis: system.Milliseconds(),
		TotalCPUMillis:  (user + system).Milliseconds(),
	}
}
