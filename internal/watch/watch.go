// Package watch polls the capture-target browser process so an abrupt
// teardown still finishes the session with whatever log tail exists.
package watch

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

const DefaultInterval = time.Second

// Watchdog fires onGone once when the watched process disappears.
type Watchdog struct {
	pid      int32
	interval time.Duration
	onGone   func()
	logger   logrus.FieldLogger

	// alive is swappable for tests; defaults to a gopsutil check.
	alive func(pid int32) bool
}

func New(pid int32, interval time.Duration, onGone func(), logger logrus.FieldLogger) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watchdog{
		pid:      pid,
		interval: interval,
		onGone:   onGone,
		logger:   logger.WithField("component", "watch"),
		alive:    processAlive,
	}
}

func processAlive(pid int32) bool {
	running, err := process.PidExists(pid)
	if err != nil {
		return false
	}
	return running
}

// Run polls until ctx is canceled or the process exits.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.alive(w.pid) {
				continue
			}
			w.logger.WithField("pid", w.pid).Warn("capture target process exited")
			if w.onGone != nil {
				w.onGone()
			}
			return
		}
	}
}
