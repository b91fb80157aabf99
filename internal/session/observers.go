package session

import (
	"context"
	"strings"

	"github.com/webolmo/recorder/internal/event"
)

// disallowedURL reports whether a URL points at a context the detector
// must not be injected into.
func disallowedURL(u string) bool {
	return strings.Contains(u, "chrome://") || strings.Contains(u, "about:blank")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// active returns the current session when the observer callbacks should
// run at all.
func (o *Orchestrator) active() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Active || o.sess == nil {
		return Session{}, false
	}
	return *o.sess, true
}

// OnTabCreated records a tab-created event, classifying whether the tab
// was opened by the user or by a link/script. A tab with an opener or a
// pending URL other than the new-tab page was not an explicit user action.
func (o *Orchestrator) OnTabCreated(ctx context.Context, tab Tab) {
	if _, ok := o.active(); !ok {
		return
	}
	explicit := tab.PendingURL == NewTabURL ||
		(tab.OpenerTabID == 0 && tab.PendingURL == "")

	o.ingest(ctx, event.Event{
		Type:               event.TabCreated,
		Timestamp:          o.now(),
		TabID:              tab.ID,
		URL:                orUnknown(tab.URL),
		Title:              orUnknown(tab.Title),
		OpenedByAnotherTab: !explicit,
	}, "", false, 0)
}

// OnTabActivated records a tab switch inside the recording window and
// rebinds the detector into the newly focused page.
func (o *Orchestrator) OnTabActivated(ctx context.Context, tabID, windowID int) {
	sess, ok := o.active()
	if !ok {
		return
	}
	if windowID != sess.WindowID {
		o.logger.WithField("windowId", windowID).Warn("activated tab is not in the recording window")
		return
	}

	var tab Tab
	if o.browser != nil {
		var err error
		tab, err = o.browser.Tab(ctx, tabID)
		if err != nil {
			o.logger.WithError(err).Warn("reading activated tab")
			return
		}
	}

	o.ingest(ctx, event.Event{
		Type:      event.TabSwitched,
		Timestamp: o.now(),
		TabID:     tabID,
		URL:       orUnknown(tab.URL),
		Title:     orUnknown(tab.Title),
	}, "", false, 0)

	if o.browser != nil && !disallowedURL(tab.URL) {
		if err := o.browser.InjectDetector(ctx, tabID); err != nil {
			o.logger.WithError(err).Warn("rebinding detector after tab switch")
		}
	}
}

// OnTabUpdated reacts to a tab starting to load inside the recording
// window: the tab is pulled into the recording group and the detector is
// rebound unless the target URL scheme is disallowed.
func (o *Orchestrator) OnTabUpdated(ctx context.Context, tab Tab, status string) {
	sess, ok := o.active()
	if !ok || tab.WindowID != sess.WindowID || status != "loading" {
		return
	}

	if o.browser == nil {
		return
	}
	if sess.TabGroupID != 0 {
		if err := o.browser.AddTabToGroup(ctx, sess.TabGroupID, tab.ID); err != nil {
			o.logger.WithError(err).Warn("regrouping loading tab")
		}
	}
	if !disallowedURL(tab.URL) && !disallowedURL(tab.PendingURL) {
		if err := o.browser.InjectDetector(ctx, tab.ID); err != nil {
			o.logger.WithError(err).Warn("rebinding detector into loading tab")
		}
	}
}

// OnWindowBoundsChanged records a resize-window event, debounced so a
// window-edge drag produces one record instead of a flood.
func (o *Orchestrator) OnWindowBoundsChanged(windowID, width, height int) {
	sess, ok := o.active()
	if !ok || windowID != sess.WindowID {
		return
	}
	o.resizeGate.Submit(event.Event{
		Type:      event.ResizeWindow,
		Timestamp: o.now(),
		Width:     width,
		Height:    height,
	})
}
