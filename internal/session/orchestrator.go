package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/webolmo/recorder/internal/capture"
	"github.com/webolmo/recorder/internal/detect"
	"github.com/webolmo/recorder/internal/event"
	"github.com/webolmo/recorder/internal/gate"
	"github.com/webolmo/recorder/internal/storage"
	"github.com/webolmo/recorder/internal/upload"
)

// ClickCaptureDelay postpones click ingestion so the screenshot catches
// the post-click paint rather than the pre-click page.
const ClickCaptureDelay = 500 * time.Millisecond

// Config wires an Orchestrator. Store, Screenshots, Recorder and Uploader
// are required; Browser may be nil, Notifier defaults to NopNotifier.
type Config struct {
	Store       storage.Store
	Screenshots *capture.Coordinator
	Recorder    *capture.Recorder
	Uploader    *upload.Pipeline
	Browser     Browser
	Notifier    Notifier
	UnloadWait  RetryPolicy
	ClickDelay  time.Duration
	// UploadURL is the deployment's endpoint for sessions that did not
	// carry their own uploadUrl.
	UploadURL string
	Logger    logrus.FieldLogger
}

// Orchestrator is the session state machine: Idle → Active → Finishing →
// Idle. It is the only writer of the event log and the session-scoped
// storage keys.
type Orchestrator struct {
	store      storage.Store
	shots      *capture.Coordinator
	recorder   *capture.Recorder
	uploader   *upload.Pipeline
	browser    Browser
	notifier   Notifier
	unloadWait RetryPolicy
	clickDelay time.Duration
	uploadURL  string
	resizeGate *gate.Debouncer
	logger     logrus.FieldLogger
	newID      func() string
	now        func() int64

	mu    sync.Mutex
	state State
	sess  *Session
	log   *event.Log
}

func New(cfg Config) *Orchestrator {
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.UnloadWait.Attempts == 0 {
		cfg.UnloadWait = DefaultUnloadWait
	}
	if cfg.ClickDelay == 0 {
		cfg.ClickDelay = ClickCaptureDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	o := &Orchestrator{
		store:      cfg.Store,
		shots:      cfg.Screenshots,
		recorder:   cfg.Recorder,
		uploader:   cfg.Uploader,
		browser:    cfg.Browser,
		notifier:   cfg.Notifier,
		unloadWait: cfg.UnloadWait,
		clickDelay: cfg.ClickDelay,
		uploadURL:  cfg.UploadURL,
		logger:     cfg.Logger.WithField("component", "session"),
		newID:      func() string { return uuid.NewString() },
		now:        func() int64 { return time.Now().UnixMilli() },
		log:        event.NewLog(),
	}
	o.resizeGate = gate.NewDebouncer(gate.ResizeIdle, func(ev event.Event) {
		if err := o.Ingest(context.Background(), ev, "", false, 0); err != nil {
			o.logger.WithError(err).Warn("recording window resize")
		}
	})
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Current returns a copy of the active session, if any.
func (o *Orchestrator) Current() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil {
		return Session{}, false
	}
	return *o.sess, true
}

// Log exposes the event log for observers. Appends stay the
// orchestrator's business.
func (o *Orchestrator) Log() *event.Log {
	return o.log
}

// StartRequest carries the session parameters from the UI context.
type StartRequest struct {
	SessionID   string
	StartURL    string
	Instruction string
	TaskSteps   []string
	UploadURL   string
	TabID       int
}

// Start moves Idle → Active: resets the log, persists the session keys,
// opens the isolated recording window and groups its tabs. Window-control
// failures degrade to a session without isolation; a duplicate start is
// rejected with ErrSessionActive.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) error {
	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return ErrSessionActive
	}
	sess := &Session{
		ID:            req.SessionID,
		StartURL:      req.StartURL,
		Instruction:   req.Instruction,
		TaskSteps:     req.TaskSteps,
		UploadURL:     req.UploadURL,
		StartingTabID: req.TabID,
	}
	o.state = Active
	o.sess = sess
	o.log.Reset()
	o.mu.Unlock()

	err := o.store.Set(ctx, map[string]any{
		keyEvents:      []event.Entry{},
		keySessionID:   req.SessionID,
		keyStartingTab: req.TabID,
		keyUploadURL:   req.UploadURL,
		keyInstruction: req.Instruction,
		keyTaskSteps:   req.TaskSteps,
		keyWebsite:     req.StartURL,
	})
	if err != nil {
		o.mu.Lock()
		o.state = Idle
		o.sess = nil
		o.mu.Unlock()
		return err
	}

	o.openRecordingWindow(ctx, sess)
	o.logger.WithFields(logrus.Fields{
		"session": req.SessionID,
		"url":     req.StartURL,
	}).Info("session started")
	return nil
}

// openRecordingWindow opens the isolated window and groups its tabs.
// Failures are logged; the session continues without isolation.
func (o *Orchestrator) openRecordingWindow(ctx context.Context, sess *Session) {
	if o.browser == nil {
		return
	}
	windowID, err := o.browser.OpenIsolatedWindow(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("opening recording window")
		return
	}
	o.mu.Lock()
	sess.WindowID = windowID
	o.mu.Unlock()
	if err := o.store.Set(ctx, map[string]any{keyWindowID: windowID}); err != nil {
		o.logger.WithError(err).Warn("persisting recording window id")
	}

	tabs, err := o.browser.QueryTabs(ctx, windowID)
	if err != nil {
		o.logger.WithError(err).Warn("querying recording window tabs")
		return
	}
	ids := make([]int, 0, len(tabs))
	for _, t := range tabs {
		ids = append(ids, t.ID)
	}
	groupID, err := o.browser.GroupTabs(ctx, windowID, ids)
	if err != nil {
		o.logger.WithError(err).Warn("grouping recording tabs")
		return
	}
	o.mu.Lock()
	sess.TabGroupID = groupID
	o.mu.Unlock()
	if err := o.store.Set(ctx, map[string]any{keyTabGroup: groupID}); err != nil {
		o.logger.WithError(err).Warn("persisting tab group id")
	}
	if err := o.browser.StyleTabGroup(ctx, groupID, "red", "Recording"); err != nil {
		o.logger.WithError(err).Warn("styling recording tab group")
	}
}

// Sink returns a detect.Sink that ingests into this orchestrator,
// stamping entries with tabID.
func (o *Orchestrator) Sink(tabID int) detect.Sink {
	return tabSink{o: o, tabID: tabID}
}

type tabSink struct {
	o     *Orchestrator
	tabID int
}

func (s tabSink) Record(ev event.Event, takeScreenshot bool) {
	if err := s.o.Ingest(context.Background(), ev, "", takeScreenshot, s.tabID); err != nil {
		s.o.logger.WithError(err).WithField("type", ev.Type.String()).Warn("recording interaction")
	}
}

// Ingest appends one event to the active session's log, capturing a
// screenshot first when asked. Screenshot failures degrade to a nil
// screenshot; the event is recorded regardless. Clicks are ingested after
// a short delay so the capture sees the click's effect.
func (o *Orchestrator) Ingest(ctx context.Context, ev event.Event, html string, takeScreenshot bool, tabID int) error {
	o.mu.Lock()
	if o.state == Idle {
		o.mu.Unlock()
		return ErrNoSession
	}
	windowID := 0
	if o.sess != nil {
		windowID = o.sess.WindowID
	}
	o.mu.Unlock()

	if tabID != 0 {
		ev.TabID = tabID
	}

	if ev.Type == event.Click && o.clickDelay > 0 {
		deferredCtx := context.WithoutCancel(ctx)
		time.AfterFunc(o.clickDelay, func() {
			o.ingest(deferredCtx, ev, html, takeScreenshot, windowID)
		})
		return nil
	}
	o.ingest(ctx, ev, html, takeScreenshot, windowID)
	return nil
}

func (o *Orchestrator) ingest(ctx context.Context, ev event.Event, html string, takeScreenshot bool, windowID int) {
	entry := event.Entry{Event: ev, HTML: html}

	if takeScreenshot && windowID != 0 {
		o.notifier.ScreenshotStarted()
		if shot := o.shots.Capture(ctx, windowID); shot != nil {
			entry.Screenshot = shot
			o.notifier.ScreenshotCaptured(shot)
		}
	}

	o.log.Append(entry)
	if err := o.store.Set(ctx, map[string]any{keyEvents: o.log.Snapshot()}); err != nil {
		o.logger.WithError(err).Error("persisting event log")
	}
	o.notifier.EventRecorded(entry)
}

// Finish moves Active → Finishing → Idle: stops the recording, waits
// (bounded) for the unload tail, uploads, notifies, clears persisted
// session state and detaches observers. When the upload fails the state
// stays Finishing and the persisted keys stay put, so RetryUpload can
// reuse them.
func (o *Orchestrator) Finish(ctx context.Context) error {
	o.mu.Lock()
	if o.state != Active {
		o.mu.Unlock()
		return ErrNoSession
	}
	o.state = Finishing
	o.mu.Unlock()

	media, err := o.recorder.Stop()
	if err != nil {
		o.logger.WithError(err).Warn("stopping session recording")
	}
	if len(media) > 0 {
		if err := o.store.Set(ctx, map[string]any{keyRecording: media}); err != nil {
			o.logger.WithError(err).Warn("persisting session recording")
		}
	}

	if !o.unloadWait.Wait(func() bool {
		tail, ok := o.log.Tail()
		return ok && tail.Event.Type == event.Unload
	}) {
		o.logger.Warn("finishing without an unload tail entry")
	}

	redirect, err := o.runUpload(ctx)
	if err != nil {
		return err
	}
	o.complete(ctx, redirect)
	return nil
}

// RetryUpload reattempts the upload from persisted state. Allowed while a
// failed finish is pending or a session is still active.
func (o *Orchestrator) RetryUpload(ctx context.Context) error {
	o.mu.Lock()
	if o.state == Idle {
		o.mu.Unlock()
		return ErrNoSession
	}
	o.state = Finishing
	o.mu.Unlock()

	redirect, err := o.runUpload(ctx)
	if err != nil {
		return err
	}
	o.complete(ctx, redirect)
	return nil
}

// runUpload reads the persisted identifiers and log so a retry sees the
// same data, fills in defaults when they were wiped, and posts the
// archive. Upload errors are reported to observers and then re-thrown so
// the caller can chain a retry affordance.
func (o *Orchestrator) runUpload(ctx context.Context) (string, error) {
	o.notifier.UploadStarted()

	sessionID, ok, err := storage.String(ctx, o.store, keySessionID)
	if err != nil {
		o.logger.WithError(err).Warn("reading persisted session id")
	}
	if !ok || sessionID == "" {
		sessionID = o.newID()
	}
	uploadURL, ok, err := storage.String(ctx, o.store, keyUploadURL)
	if err != nil {
		o.logger.WithError(err).Warn("reading persisted upload url")
	}
	// Per-session URL wins, then the deployment's configured endpoint,
	// then the built-in default.
	if !ok || uploadURL == "" {
		uploadURL = o.uploadURL
	}
	if uploadURL == "" {
		uploadURL = upload.DefaultUploadURL
	}

	entries := o.persistedEntries(ctx)
	media := o.persistedRecording(ctx)

	redirect, err := o.uploader.UploadSession(ctx, entries, media, uploadURL, sessionID)
	if err != nil {
		o.notifier.UploadFailed(err.Error())
		return "", err
	}
	o.notifier.UploadFinished()
	return redirect, nil
}

func (o *Orchestrator) persistedEntries(ctx context.Context) []event.Entry {
	got, err := o.store.Get(ctx, keyEvents)
	if err != nil {
		o.logger.WithError(err).Warn("reading persisted events, using in-memory log")
		return o.log.Snapshot()
	}
	raw, present := got[keyEvents]
	if !present {
		return o.log.Snapshot()
	}
	var entries []event.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		o.logger.WithError(err).Warn("decoding persisted events, using in-memory log")
		return o.log.Snapshot()
	}
	return entries
}

func (o *Orchestrator) persistedRecording(ctx context.Context) []byte {
	got, err := o.store.Get(ctx, keyRecording)
	if err != nil {
		return nil
	}
	raw, present := got[keyRecording]
	if !present {
		return nil
	}
	var media []byte
	if err := json.Unmarshal(raw, &media); err != nil {
		return nil
	}
	return media
}

func (o *Orchestrator) complete(ctx context.Context, redirect string) {
	o.notifier.SessionFinished(redirect)
	if err := o.store.Remove(ctx, sessionKeys...); err != nil {
		o.logger.WithError(err).Warn("clearing session storage")
	}
	o.mu.Lock()
	o.state = Idle
	o.sess = nil
	o.mu.Unlock()
	o.logger.Info("session finished")
}

// Resume rebuilds an Active session from persisted state after a process
// restart, so an interrupted session can still be finished or retried.
// No-op when nothing was persisted.
func (o *Orchestrator) Resume(ctx context.Context) error {
	sessionID, ok, err := storage.String(ctx, o.store, keySessionID)
	if err != nil {
		return err
	}
	if !ok || sessionID == "" {
		return nil
	}

	sess := &Session{ID: sessionID}
	sess.StartURL, _, _ = storage.String(ctx, o.store, keyWebsite)
	sess.Instruction, _, _ = storage.String(ctx, o.store, keyInstruction)
	sess.UploadURL, _, _ = storage.String(ctx, o.store, keyUploadURL)
	sess.StartingTabID, _, _ = storage.Int(ctx, o.store, keyStartingTab)
	sess.WindowID, _, _ = storage.Int(ctx, o.store, keyWindowID)
	sess.TabGroupID, _, _ = storage.Int(ctx, o.store, keyTabGroup)

	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return ErrSessionActive
	}
	o.state = Active
	o.sess = sess
	o.mu.Unlock()

	o.log.Replace(o.persistedEntries(ctx))
	o.logger.WithField("session", sessionID).Info("resumed persisted session")
	return nil
}

// Instruction returns the persisted task instruction.
func (o *Orchestrator) Instruction(ctx context.Context) string {
	v, _, _ := storage.String(ctx, o.store, keyInstruction)
	return v
}

// Website returns the persisted start URL.
func (o *Orchestrator) Website(ctx context.Context) string {
	v, _, _ := storage.String(ctx, o.store, keyWebsite)
	return v
}
