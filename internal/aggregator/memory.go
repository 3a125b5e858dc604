package aggregator

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// MemoryWatch samples process RSS at seal and merge points and logs a
// watermark warning when it exceeds the configured budget. The batching
// thresholds are the actual bounding mechanism; the watch exists to surface
// misconfigured thresholds before the host OOM-kills the worker.
type MemoryWatch struct {
	budgetBytes uint64
	proc        *process.Process
	minInterval time.Duration

	lastSample int64 // unix nanos, atomic
	peakRSS    uint64
}

// NewMemoryWatch creates a watch with the given budget in megabytes. A zero
// or negative budget disables sampling.
func NewMemoryWatch(budgetMB int) (*MemoryWatch, error) {
	if budgetMB <= 0 {
		return nil, nil
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &MemoryWatch{
		budgetBytes: uint64(budgetMB) * 1024 * 1024,
		proc:        p,
		minInterval: time.Second,
	}, nil
}

// Check samples RSS, rate-limited to one sample per interval.
func (w *MemoryWatch) Check(logger *zap.Logger, partition string) {
	if w == nil {
		return
	}
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&w.lastSample)
	if now-last < int64(w.minInterval) {
		return
	}
	if !atomic.CompareAndSwapInt64(&w.lastSample, last, now) {
		return
	}

	info, err := w.proc.MemoryInfo()
	if err != nil {
		return
	}
	if info.RSS > w.peakRSS {
		w.peakRSS = info.RSS
	}
	if info.RSS > w.budgetBytes {
		logger.Warn("memory watermark exceeded during aggregation",
			zap.String("partition", partition),
			zap.Uint64("rss_bytes", info.RSS),
			zap.Uint64("budget_bytes", w.budgetBytes))
	}
}

// PeakRSS returns the highest RSS observed so far.
func (w *MemoryWatch) PeakRSS() uint64 {
	if w == nil {
		return 0
	}
	return w.peakRSS
}
