// Package session owns the recording-session lifecycle: start, event
// ingestion with screenshot capture, tab and window observation, and the
// finish/upload sequence. Exactly one session may be active process-wide.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/webolmo/recorder/internal/event"
)

type State int

const (
	Idle State = iota
	Active
	Finishing
)

var stateNames = map[State]string{
	Idle:      "idle",
	Active:    "active",
	Finishing: "finishing",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

var (
	// ErrSessionActive reports a duplicate start. Non-fatal: the running
	// session keeps going.
	ErrSessionActive = errors.New("session already started")
	// ErrNoSession reports an operation that needs an active session.
	ErrNoSession = errors.New("no active session")
)

// Session-scoped storage keys. All are cleared after a successful upload.
const (
	keyEvents      = "events"
	keySessionID   = "sessionId"
	keyStartingTab = "startingTabId"
	keyUploadURL   = "uploadUrl"
	keyInstruction = "currentInstruction"
	keyTaskSteps   = "currentTaskSteps"
	keyWebsite     = "currentWebsite"
	keyRecording   = "sessionRecording"
	keyWindowID    = "recordingWindowId"
	keyTabGroup    = "recordingTabGroupId"
)

var sessionKeys = []string{
	keyEvents, keySessionID, keyStartingTab, keyUploadURL,
	keyInstruction, keyTaskSteps, keyWebsite, keyRecording,
	keyWindowID, keyTabGroup,
}

// Session holds the metadata of the one active recording.
type Session struct {
	ID            string   `json:"id"`
	StartURL      string   `json:"startUrl"`
	Instruction   string   `json:"instruction"`
	TaskSteps     []string `json:"taskSteps,omitempty"`
	UploadURL     string   `json:"uploadUrl"`
	StartingTabID int      `json:"startingTabId"`
	WindowID      int      `json:"recordingWindowId,omitempty"`
	TabGroupID    int      `json:"recordingTabGroupId,omitempty"`
}

// Tab mirrors the platform's view of a browser tab.
type Tab struct {
	ID          int
	WindowID    int
	OpenerTabID int
	URL         string
	PendingURL  string
	Title       string
}

// NewTabURL is the pending URL of an explicitly user-created tab.
const NewTabURL = "chrome://newtab/"

// Browser is the platform boundary for window and tab control. A nil
// Browser disables window isolation and detector re-injection; events are
// still recorded.
type Browser interface {
	// OpenIsolatedWindow opens the dedicated recording window.
	OpenIsolatedWindow(ctx context.Context) (windowID int, err error)
	// QueryTabs lists the tabs of a window.
	QueryTabs(ctx context.Context, windowID int) ([]Tab, error)
	// GroupTabs creates a tab group in a window containing tabIDs.
	GroupTabs(ctx context.Context, windowID int, tabIDs []int) (groupID int, err error)
	// AddTabToGroup moves one tab into an existing group.
	AddTabToGroup(ctx context.Context, groupID, tabID int) error
	// StyleTabGroup recolors and titles a group.
	StyleTabGroup(ctx context.Context, groupID int, color, title string) error
	// Tab returns one tab's current state.
	Tab(ctx context.Context, tabID int) (Tab, error)
	// InjectDetector rebinds signal detection into a page context.
	InjectDetector(ctx context.Context, tabID int) error
}

// Notifier receives best-effort UI notifications. Delivery failures never
// fail the session.
type Notifier interface {
	EventRecorded(entry event.Entry)
	ScreenshotStarted()
	ScreenshotCaptured(shot []byte)
	UploadStarted()
	UploadFinished()
	UploadFailed(detail string)
	SessionFinished(redirectLocation string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) EventRecorded(event.Entry) {}
func (NopNotifier) ScreenshotStarted()        {}
func (NopNotifier) ScreenshotCaptured([]byte) {}
func (NopNotifier) UploadStarted()            {}
func (NopNotifier) UploadFinished()           {}
func (NopNotifier) UploadFailed(string)       {}
func (NopNotifier) SessionFinished(string)    {}

// RetryPolicy bounds a poll-based wait: up to Attempts re-checks spaced
// Interval apart. Keeps finish-session latency bounded instead of waiting
// for a condition that may never hold.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultUnloadWait bounds the wait for the unload tail entry.
var DefaultUnloadWait = RetryPolicy{Attempts: 3, Interval: 100 * time.Millisecond}

// Wait polls cond until it holds or the attempts are exhausted. Returns
// the final cond result.
func (p RetryPolicy) Wait(cond func() bool) bool {
	for i := 0; ; i++ {
		if cond() {
			return true
		}
		if i >= p.Attempts {
			return false
		}
		time.Sleep(p.Interval)
	}
}
