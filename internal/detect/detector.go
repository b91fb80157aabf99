// Package detect normalizes raw page-level signals into interaction
// events and routes them through the rate-limit and debounce gates.
package detect

import (
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/webolmo/recorder/internal/event"
	"github.com/webolmo/recorder/internal/gate"
)

// PointerCaptureWindow is how long a recorded pointerdown suppresses the
// rest of its compound gesture (pointerup, synthetic click, input echo).
const PointerCaptureWindow = 300 * time.Millisecond

// BlockWarning is shown on the page when the rate limiter fires.
const BlockWarning = "You are performing actions too quickly. Please slow down and try this action again."

// Sink receives normalized events that passed the gates.
type Sink interface {
	Record(ev event.Event, takeScreenshot bool)
}

// Warner surfaces a transient rate-limit warning to the page.
type Warner interface {
	SpeedWarning(message string)
}

// Detector owns the gate state for one page binding. Handle methods return
// true when the platform default action should be suppressed (the signal
// was blocked and is cancelable).
type Detector struct {
	guard         *Guard
	inputGate     *gate.Debouncer
	selectionGate *gate.Debouncer
	loadGate      *gate.Debouncer
	sink          Sink
	logger        logrus.FieldLogger

	mu              sync.Mutex
	pointerCaptured bool
	captureTimer    *time.Timer
	scrolling       bool
	scrollStart     event.Point
	scrollStartTime int64
	cursor          event.Point
	dragArmed       bool
	stopped         bool
}

func New(sink Sink, warner Warner, logger logrus.FieldLogger) *Detector {
	d := &Detector{
		guard:  NewGuard(warner, logger),
		sink:   sink,
		logger: logger.WithField("component", "detect"),
	}
	d.inputGate = gate.NewDebouncer(gate.InputIdle, d.deliverDebounced)
	d.selectionGate = gate.NewDebouncer(gate.SelectionIdle, d.deliverDebounced)
	d.loadGate = gate.NewDebouncer(gate.LoadSettle, d.deliverDebounced)
	return d
}

// Stop tears the binding down: pending debounce payloads are discarded and
// later signals are ignored.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.captureTimer != nil {
		d.captureTimer.Stop()
		d.captureTimer = nil
	}
	d.mu.Unlock()
	d.inputGate.Stop()
	d.selectionGate.Stop()
	d.loadGate.Stop()
}

// dispatch runs the rate-limit check and forwards the event. Returns true
// when the signal was blocked.
func (d *Detector) dispatch(ev event.Event, takeScreenshot bool) bool {
	if !d.guard.Admit(ev, takeScreenshot) {
		return true
	}
	d.sink.Record(ev, takeScreenshot)
	return false
}

func (d *Detector) deliverDebounced(ev event.Event) {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return
	}
	d.dispatch(ev, true)
}

// HandleMouseMove tracks the cursor so scroll records can carry it.
func (d *Detector) HandleMouseMove(x, y float64) {
	d.mu.Lock()
	d.cursor = event.Point{X: x, Y: y}
	d.mu.Unlock()
}

// HandlePointer turns pointerdown/pointerup into click events. A primary
// pointerdown off the (0,0) synthetic sentinel opens the capture window;
// anything else from the same gesture inside the window is ignored.
func (d *Detector) HandlePointer(sig PointerSignal) bool {
	d.mu.Lock()
	if d.stopped || d.pointerCaptured {
		d.mu.Unlock()
		return false
	}
	if sig.Kind == PointerDown {
		if sig.Button != 0 {
			d.mu.Unlock()
			return false
		}
		if sig.X == 0 && sig.Y == 0 {
			d.mu.Unlock()
			return false
		}
		d.pointerCaptured = true
		d.captureTimer = time.AfterFunc(PointerCaptureWindow, func() {
			d.mu.Lock()
			d.pointerCaptured = false
			d.mu.Unlock()
		})
	}
	d.mu.Unlock()

	ev := event.Event{
		Type:           event.Click,
		Timestamp:      sig.Timestamp,
		URL:            sig.Page.URL,
		PageTitle:      sig.Page.Title,
		X:              sig.X,
		Y:              sig.Y,
		ViewportWidth:  sig.Page.ViewportWidth,
		ViewportHeight: sig.Page.ViewportHeight,
		Element:        orUnknown(sig.Target.Element),
		ElementID:      orUnknown(sig.Target.ID),
		Class:          orUnknown(sig.Target.Class),
		Src:            orUnknown(sig.Target.Src),
		Href:           orUnknown(sig.Target.Href),
		AriaLabel:      orUnknown(sig.Target.AriaLabel),
		Role:           orUnknown(sig.Target.Role),
		Text:           orUnknown(sig.Target.Text),
		Button:         sig.Button,
		BBox:           sig.Target.BBox,
		PointerType:    sig.Kind,
	}
	return d.dispatch(ev, true)
}

// HandleMouseDown arms drag detection and records anchor clicks that open
// a new browsing context. Those are recorded synchronously, bypassing the
// gates: the originating context may be gone before an async path runs.
func (d *Detector) HandleMouseDown(sig MouseDownSignal) {
	if sig.Button != 0 || (sig.X == 0 && sig.Y == 0) {
		return
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.dragArmed = true
	d.mu.Unlock()

	if sig.Target.AnchorTarget != "_blank" || sig.Target.AnchorHref == "" {
		return
	}
	ev := event.Event{
		Type:         event.Click,
		Timestamp:    sig.Timestamp,
		URL:          sig.Page.URL,
		PageTitle:    sig.Page.Title,
		X:            sig.X,
		Y:            sig.Y,
		Element:      "A",
		ElementID:    orUnknown(sig.Target.ID),
		Class:        orUnknown(sig.Target.Class),
		Src:          orUnknown(sig.Target.Src),
		Href:         sig.Target.AnchorHref,
		AriaLabel:    orUnknown(sig.Target.AriaLabel),
		Role:         orUnknown(sig.Target.Role),
		Text:         orUnknown(sig.Target.Text),
		Button:       sig.Button,
		BBox:         sig.Target.BBox,
		OpenedNewTab: true,
	}
	d.guard.Observe(ev.Timestamp)
	d.sink.Record(ev, false)
}

// HandleScroll marks the start position of a scroll gesture. Scrolling
// cancels any drag in progress; scrolls triggered by a just-captured click
// are ignored.
func (d *Detector) HandleScroll(sig ScrollSignal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.pointerCaptured {
		return
	}
	if !d.scrolling {
		d.scrolling = true
		d.scrollStart = event.Point{X: sig.X, Y: sig.Y}
		d.scrollStartTime = sig.Timestamp
	}
	d.dragArmed = false
}

// HandleScrollEnd closes the start/end pair. Zero net displacement in both
// axes produces no record.
func (d *Detector) HandleScrollEnd(sig ScrollSignal) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	start := d.scrollStart
	startTime := d.scrollStartTime
	cursor := d.cursor
	d.scrolling = false
	d.mu.Unlock()

	deltaX := sig.X - start.X
	deltaY := sig.Y - start.Y
	if deltaX == 0 && deltaY == 0 {
		return
	}

	ev := event.Event{
		Type:            event.Scroll,
		Timestamp:       sig.Timestamp,
		URL:             sig.Page.URL,
		PageTitle:       sig.Page.Title,
		DeltaX:          deltaX,
		DeltaY:          deltaY,
		DirectionX:      direction(deltaX, "right", "left"),
		DirectionY:      direction(deltaY, "down", "up"),
		CursorX:         cursor.X,
		CursorY:         cursor.Y,
		ViewportWidth:   sig.Page.ViewportWidth,
		ViewportHeight:  sig.Page.ViewportHeight,
		Duration:        sig.Timestamp - startTime,
		BBox:            sig.Target.BBox,
		IsElementScroll: sig.ElementScroll,
	}
	d.dispatch(ev, true)
}

func direction(delta float64, positive, negative string) string {
	switch {
	case delta > 0:
		return positive
	case delta < 0:
		return negative
	default:
		return "none"
	}
}

// specialKeys is the allow-list of non-printable keys recorded as
// keypress events. Character input is captured through the input class.
var specialKeys = map[string]bool{
	"Enter":       true,
	"NumpadEnter": true,
	"Tab":         true,
	"ArrowDown":   true,
	"ArrowUp":     true,
	"ArrowLeft":   true,
	"ArrowRight":  true,
	"Escape":      true,
}

func (d *Detector) HandleKey(sig KeySignal) bool {
	if !specialKeys[sig.Key] {
		return false
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	ev := event.Event{
		Type:           event.Keypress,
		Timestamp:      sig.Timestamp,
		URL:            sig.Page.URL,
		PageTitle:      sig.Page.Title,
		Key:            sig.Key,
		ViewportWidth:  sig.Page.ViewportWidth,
		ViewportHeight: sig.Page.ViewportHeight,
		Element:        orUnknown(sig.Target.Element),
		ElementID:      orUnknown(sig.Target.ID),
		Class:          orUnknown(sig.Target.Class),
		AriaLabel:      orUnknown(sig.Target.AriaLabel),
		Role:           orUnknown(sig.Target.Role),
		Value:          orUnknown(sig.Target.Value),
		BBox:           sig.Target.BBox,
	}
	return d.dispatch(ev, true)
}

// HandleInput submits an editable-field change to the input debouncer.
// Only the value observed last before the idle gap is recorded.
func (d *Detector) HandleInput(sig InputSignal) {
	d.mu.Lock()
	captured := d.pointerCaptured
	stopped := d.stopped
	d.mu.Unlock()
	if stopped || captured || !sig.Editable {
		return
	}

	d.inputGate.Submit(event.Event{
		Type:           event.Input,
		Timestamp:      sig.Timestamp,
		URL:            sig.Page.URL,
		PageTitle:      sig.Page.Title,
		Value:          sig.Value,
		ViewportWidth:  sig.Page.ViewportWidth,
		ViewportHeight: sig.Page.ViewportHeight,
		Element:        sig.Target.Element,
		ElementID:      orUnknown(sig.Target.ID),
		Class:          orUnknown(sig.Target.Class),
		BBox:           sig.Target.BBox,
	})
}

// HandleSelection submits a non-empty text selection to the selection
// debouncer, noting whether it spans the entire visible text.
func (d *Detector) HandleSelection(sig SelectionSignal) {
	if sig.Text == "" {
		return
	}
	d.selectionGate.Submit(event.Event{
		Type:             event.Selection,
		Timestamp:        sig.Timestamp,
		URL:              sig.Page.URL,
		PageTitle:        sig.Page.Title,
		Text:             sig.Text,
		IsSelectAll:      sig.BodyText != "" && sig.Text == sig.BodyText,
		ViewportWidth:    sig.Page.ViewportWidth,
		ViewportHeight:   sig.Page.ViewportHeight,
		StartCoordinates: sig.Start,
		EndCoordinates:   sig.End,
	})
}

func (d *Detector) HandleCopy(sig ClipboardSignal) bool {
	ev := event.Event{
		Type:           event.Copy,
		Timestamp:      sig.Timestamp,
		URL:            sig.Page.URL,
		Text:           sig.Text,
		ViewportWidth:  sig.Page.ViewportWidth,
		ViewportHeight: sig.Page.ViewportHeight,
	}
	return d.dispatch(ev, true)
}

func (d *Detector) HandlePaste(sig ClipboardSignal) bool {
	ev := event.Event{
		Type:           event.Paste,
		Timestamp:      sig.Timestamp,
		URL:            sig.Page.URL,
		PageTitle:      sig.Page.Title,
		Text:           sig.Text,
		ViewportWidth:  sig.Page.ViewportWidth,
		ViewportHeight: sig.Page.ViewportHeight,
	}
	return d.dispatch(ev, true)
}

// HandleLoad classifies how the page was reached and records a load event
// once the page has settled.
func (d *Detector) HandleLoad(sig LoadSignal) {
	d.loadGate.Submit(event.Event{
		Type:             event.Load,
		Timestamp:        sig.Timestamp,
		URL:              sig.Page.URL,
		PageTitle:        sig.Page.Title,
		NavigationMethod: ClassifyNavigation(sig.NavigationType, sig.Referrer, sig.Page.URL),
		NavigationType:   sig.NavigationType,
		Referrer:         sig.Referrer,
	})
}

// HandleUnload records the page teardown marker. It is never
// screenshot-worthy and never blocked; losing it would leave the session
// log without its terminal entry.
func (d *Detector) HandleUnload(sig UnloadSignal) {
	d.dispatch(event.Event{
		Type:      event.Unload,
		Timestamp: sig.Timestamp,
		URL:       sig.Page.URL,
		PageTitle: sig.Page.Title,
	}, false)
}

// ClassifyNavigation derives the navigation method from the
// navigation-entry type and a referrer domain comparison.
func ClassifyNavigation(navType, referrer, pageURL string) string {
	switch navType {
	case NavTypeReload:
		return event.NavPageRefresh
	case NavTypeBackForward:
		return event.NavBrowserBackForward
	case NavTypeNavigate:
		if referrer == "" {
			return event.NavDirect
		}
		ref, err := url.Parse(referrer)
		cur, err2 := url.Parse(pageURL)
		if err != nil || err2 != nil {
			return event.NavUnknown
		}
		if ref.Hostname() == cur.Hostname() {
			return event.NavInternalLink
		}
		return event.NavExternalLink
	}
	return event.NavUnknown
}
