package metrics

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// StartMemorySampler periodically samples the process RSS into MemoryUsage.
// It returns a stop function.
func StartMemorySampler(interval time.Duration) func() {
	stopCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				if mem, err := proc.MemoryInfo(); err == nil {
					MemoryUsage.Set(float64(mem.RSS) / 1024.0)
				}
			case <-stopCh:
				return
			}
		}
	}()

	return func() { close(stopCh) }
}
