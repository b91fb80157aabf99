package capture

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

type fakeStream struct {
	ch      chan []byte
	mu      sync.Mutex
	stopped bool
	stopErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan []byte, 16)}
}

func (s *fakeStream) Chunks() <-chan []byte { return s.ch }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.ch)
	}
	return s.stopErr
}

func (s *fakeStream) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func TestRecorderAccumulatesChunks(t *testing.T) {
	r := NewRecorder(quietLogger())
	stream := newFakeStream()

	if err := r.Start(stream); err != nil {
		t.Fatal(err)
	}
	if !r.Recording() {
		t.Fatal("Recording() = false after Start")
	}

	stream.ch <- []byte("webm-")
	stream.ch <- []byte("chunk-1")
	stream.ch <- []byte("chunk-2")

	got, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("webm-chunk-1chunk-2")
	if !bytes.Equal(got, want) {
		t.Errorf("Stop() = %q, want %q", got, want)
	}
	if !stream.wasStopped() {
		t.Error("underlying stream not stopped")
	}
	if r.Recording() {
		t.Error("Recording() = true after Stop")
	}
}

func TestRecorderDoubleStart(t *testing.T) {
	r := NewRecorder(quietLogger())
	first := newFakeStream()
	if err := r.Start(first); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	if err := r.Start(newFakeStream()); err != ErrRecordingInProgress {
		t.Errorf("second Start returned %v, want ErrRecordingInProgress", err)
	}
}

func TestRecorderStopWithoutStart(t *testing.T) {
	r := NewRecorder(quietLogger())
	got, err := r.Stop()
	if err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
	if got != nil {
		t.Errorf("Stop() = %q, want nil", got)
	}
}

func TestRecorderWaitsForLateChunk(t *testing.T) {
	r := NewRecorder(quietLogger())

	// A stream whose only chunk arrives just before the channel closes,
	// after Stop has already been requested.
	slow := &fakeStream{ch: make(chan []byte, 1)}
	stopOnce := sync.Once{}
	done := make(chan struct{})
	slowStop := &hookedStream{fakeStream: slow, onStop: func() {
		stopOnce.Do(func() {
			go func() {
				time.Sleep(150 * time.Millisecond)
				slow.ch <- []byte("late")
				close(slow.ch)
				close(done)
			}()
		})
	}}

	if err := r.Start(slowStop); err != nil {
		t.Fatal(err)
	}
	got, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if !bytes.Equal(got, []byte("late")) {
		t.Errorf("Stop() = %q, want %q", got, "late")
	}
}

func TestRecorderRestartAfterStop(t *testing.T) {
	r := NewRecorder(quietLogger())

	first := newFakeStream()
	if err := r.Start(first); err != nil {
		t.Fatal(err)
	}
	first.ch <- []byte("one")
	if _, err := r.Stop(); err != nil {
		t.Fatal(err)
	}

	second := newFakeStream()
	if err := r.Start(second); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	second.ch <- []byte("two")
	got, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("two")) {
		t.Errorf("second recording = %q, want %q (no carryover)", got, "two")
	}
}

// hookedStream defers channel close to onStop so tests can model media
// pipelines that flush a final chunk after the stop request.
type hookedStream struct {
	*fakeStream
	onStop func()
}

func (s *hookedStream) Stop() error {
	s.onStop()
	return nil
}
