//go:build !unix

package executor

import (
	"time"

	"github.com/flowplane/flowplane/model"
)

type usageSample struct {
	userTime   time.Duration
	systemTime time.Duration
	maxRSS     int64
}

func sampleUsage() usageSample {
	return usageSample{}
}

func usageDelta(start usageSample, end usageSample) model.ResourceMetrics {
	return model.ResourceMetrics{}
}
