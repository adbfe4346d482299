package status

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// DefaultSampleInterval is how often the run's own CPU and memory
// figures are refreshed when nothing is configured.
const DefaultSampleInterval = 2 * time.Second

// StartSampler refreshes the tracker's CPU and RSS figures for the
// current process every interval until ctx is done.
func (t *Tracker) StartSampler(ctx context.Context, interval time.Duration) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("open own process: %w", err)
	}
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sample(proc)
			}
		}
	}()
	return nil
}

func (t *Tracker) sample(proc *process.Process) {
	cpu, err := proc.CPUPercent()
	if err != nil {
		return
	}
	var rss uint64
	if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
		rss = mi.RSS
	}
	t.mu.Lock()
	t.state.CPUPercent = cpu
	t.state.RSSBytes = rss
	t.mu.Unlock()
	t.notify(nil)
}
