package server

import (
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/common/metrics"
)

// MemoryMonitorConfig configures periodic runtime stats collection.
type MemoryMonitorConfig struct {
	Enabled             bool          `yaml:"enabled" default:"false"`
	Interval            time.Duration `yaml:"interval" default:"60s"`
	WarningThresholdMB  uint64        `yaml:"warningThresholdMb" default:"2048"`
	CriticalThresholdMB uint64        `yaml:"criticalThresholdMb" default:"4096"`
}

// memoryWatcher samples runtime memory statistics on an interval. Long-lived
// sessions pin forked state in memory, so heap growth is the first symptom
// of leaked sessions.
type memoryWatcher struct {
	log    logrus.FieldLogger
	config MemoryMonitorConfig
	stopCh chan struct{}
}

func newMemoryWatcher(log logrus.FieldLogger, config MemoryMonitorConfig) *memoryWatcher {
	return &memoryWatcher{
		log:    log.WithField("component", "memory_watcher"),
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start samples once immediately, then on every interval tick.
func (w *memoryWatcher) Start(ctx context.Context) error {
	if !w.config.Enabled {
		return nil
	}

	w.log.WithFields(logrus.Fields{
		"interval":              w.config.Interval,
		"warning_threshold_mb":  w.config.WarningThresholdMB,
		"critical_threshold_mb": w.config.CriticalThresholdMB,
	}).Info("Starting memory watcher")

	go func() {
		ticker := time.NewTicker(w.config.Interval)
		defer ticker.Stop()

		w.observe()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.observe()
			}
		}
	}()

	return nil
}

func (w *memoryWatcher) Stop(context.Context) error {
	if w.config.Enabled {
		close(w.stopCh)
	}

	return nil
}

func (w *memoryWatcher) observe() {
	var ms runtime.MemStats

	runtime.ReadMemStats(&ms)

	for kind, v := range map[string]uint64{
		"alloc":      ms.Alloc,
		"sys":        ms.Sys,
		"heap_alloc": ms.HeapAlloc,
		"heap_sys":   ms.HeapSys,
	} {
		metrics.MemoryUsage.WithLabelValues(kind).Set(float64(v))
	}

	metrics.GoroutineCount.Set(float64(runtime.NumGoroutine()))

	allocMB := ms.Alloc / 1024 / 1024

	entry := w.log.WithFields(logrus.Fields{
		"alloc_mb":      allocMB,
		"sys_mb":        ms.Sys / 1024 / 1024,
		"heap_alloc_mb": ms.HeapAlloc / 1024 / 1024,
		"goroutines":    runtime.NumGoroutine(),
		"num_gc":        ms.NumGC,
	})

	switch {
	case allocMB > w.config.CriticalThresholdMB:
		metrics.MemoryPressureEvents.WithLabelValues("critical").Inc()
		entry.Error("Critical memory usage detected")
	case allocMB > w.config.WarningThresholdMB:
		metrics.MemoryPressureEvents.WithLabelValues("warning").Inc()
		entry.Warn("High memory usage detected")
	default:
		entry.Debug("Memory usage sample")
	}
}
