package watch

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestWatchdogFiresWhenProcessExits(t *testing.T) {
	var fired atomic.Int32
	var checks atomic.Int32

	w := New(1234, 5*time.Millisecond, func() { fired.Add(1) }, quietLogger())
	w.alive = func(pid int32) bool {
		return checks.Add(1) < 3
	}

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never returned after the process exited")
	}
	if fired.Load() != 1 {
		t.Errorf("onGone fired %d times, want 1", fired.Load())
	}
}

func TestWatchdogStopsOnContextCancel(t *testing.T) {
	var fired atomic.Int32
	w := New(1234, 5*time.Millisecond, func() { fired.Add(1) }, quietLogger())
	w.alive = func(pid int32) bool { return true }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not stop on cancel")
	}
	if fired.Load() != 0 {
		t.Errorf("onGone fired %d times for a live process", fired.Load())
	}
}

func TestWatchdogDefaultInterval(t *testing.T) {
	w := New(1, 0, nil, quietLogger())
	if w.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", w.interval, DefaultInterval)
	}
}
