package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRecordingInProgress is returned when Start is called while a
// recording is already running.
var ErrRecordingInProgress = errors.New("recording already in progress")

// MediaStream is a live media capture. Chunks delivers encoded media as it
// arrives; Stop halts the capture and releases all tracks, after which
// Chunks is closed.
type MediaStream interface {
	Chunks() <-chan []byte
	Stop() error
}

// Source resolves a capture target into a media stream.
type Source interface {
	CaptureTarget(ctx context.Context, tabID int) (MediaStream, error)
}

// chunkWait bounds the post-stop poll for the first media chunk. If no
// data ever arrived we return whatever is there rather than waiting
// forever.
const (
	chunkWaitAttempts = 3
	chunkWaitInterval = 100 * time.Millisecond
)

// Recorder accumulates one screen recording at a time.
type Recorder struct {
	mu     sync.Mutex
	stream MediaStream
	chunks [][]byte
	done   chan struct{}
	logger logrus.FieldLogger
}

func NewRecorder(logger logrus.FieldLogger) *Recorder {
	return &Recorder{logger: logger.WithField("component", "recorder")}
}

// Start begins accumulating chunks from stream. Fails fast when a
// recording is already running.
func (r *Recorder) Start(stream MediaStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return ErrRecordingInProgress
	}
	r.stream = stream
	r.chunks = nil
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for chunk := range stream.Chunks() {
			r.mu.Lock()
			r.chunks = append(r.chunks, chunk)
			r.mu.Unlock()
		}
	}(r.done)
	return nil
}

// Recording reports whether a recording is running.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Stop halts the stream, releases its tracks, and returns the accumulated
// bytes. Waits (bounded) for at least one chunk; if none ever arrives the
// possibly-empty accumulation is returned as-is. A stop without an active
// recording is a warned no-op.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	stream := r.stream
	done := r.done
	r.mu.Unlock()

	if stream == nil {
		r.logger.Warn("stop requested with no recording in progress")
		return nil, nil
	}

	if err := stream.Stop(); err != nil {
		r.logger.WithError(err).Warn("stopping media stream")
	}

	// Let the drain goroutine observe the closed channel.
	select {
	case <-done:
	case <-time.After(chunkWaitInterval * (chunkWaitAttempts + 1)):
	}

	for i := 0; i < chunkWaitAttempts; i++ {
		r.mu.Lock()
		n := len(r.chunks)
		r.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(chunkWaitInterval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var buf bytes.Buffer
	for _, chunk := range r.chunks {
		buf.Write(chunk)
	}
	r.stream = nil
	r.chunks = nil
	r.done = nil
	return buf.Bytes(), nil
}
