package ws

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/webolmo/recorder/internal/capture"
	"github.com/webolmo/recorder/internal/event"
	"github.com/webolmo/recorder/internal/session"
	"github.com/webolmo/recorder/internal/storage"
	"github.com/webolmo/recorder/internal/upload"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type wsHarness struct {
	server *Server
	hub    *Hub
	orch   *session.Orchestrator
	http   *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	uploadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, "done")
	}))
	t.Cleanup(uploadSrv.Close)

	logger := quietLogger()
	hub := NewHub(logger)
	orch := session.New(session.Config{
		Store:       storage.NewMemory(),
		Screenshots: capture.NewCoordinator(nil, logger),
		Recorder:    capture.NewRecorder(logger),
		Uploader:    upload.NewPipeline(uploadSrv.Client(), logger),
		UploadURL:   uploadSrv.URL,
		Notifier:    hub,
		ClickDelay:  time.Millisecond,
		Logger:      logger,
	})
	srv := NewServer(hub, orch, capture.NewRecorder(logger), nil, logger)

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(hs.Close)

	return &wsHarness{server: srv, hub: hub, orch: orch, http: hs}
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitForState(t *testing.T, orch *session.Orchestrator, want session.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if orch.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", orch.State(), want)
}

func TestStartSessionOverSocket(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	send(t, conn, Message{
		Type:        MsgStartSession,
		SessionID:   "ws-1",
		StartURL:    "https://example.com",
		Instruction: "book a table",
		TabID:       3,
	})
	waitForState(t, h.orch, session.Active)

	sess, ok := h.orch.Current()
	if !ok || sess.ID != "ws-1" || sess.StartingTabID != 3 {
		t.Errorf("session = %+v, %v", sess, ok)
	}
}

func TestRecordInteractionReachesLog(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	send(t, conn, Message{Type: MsgStartSession, SessionID: "ws-1"})
	waitForState(t, h.orch, session.Active)

	send(t, conn, Message{
		Type:  MsgRecordInteraction,
		Event: &event.Event{Type: event.Keypress, Timestamp: 1000, Key: "Enter"},
		TabID: 5,
	})

	deadline := time.Now().Add(2 * time.Second)
	for h.orch.Log().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	entry, ok := h.orch.Log().Tail()
	if !ok {
		t.Fatal("interaction never reached the log")
	}
	if entry.Event.Key != "Enter" || entry.Event.TabID != 5 {
		t.Errorf("logged entry = %+v", entry.Event)
	}

	// The hub echoes the recorded entry to connected contexts.
	msg := readMessage(t, conn)
	if msg.Type != MsgAddEvent || msg.Entry == nil {
		t.Errorf("broadcast = %+v, want addEvent with data", msg)
	}
}

func TestRecordInteractionBurstRateLimited(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	send(t, conn, Message{Type: MsgStartSession, SessionID: "ws-1"})
	waitForState(t, h.orch, session.Active)

	// Six events 10ms apart: after the first two, every event lands
	// within the gap of two events ago and must be dropped with a warning.
	for i := 0; i < 6; i++ {
		send(t, conn, Message{
			Type:  MsgRecordInteraction,
			Event: &event.Event{Type: event.Keypress, Timestamp: int64(1000 + 10*i), Key: "Enter"},
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.orch.Log().Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := h.orch.Log().Len(); got != 2 {
		t.Errorf("log holds %d entries after the burst, want 2", got)
	}

	// Two recorded entries and four speed warnings reach the contexts.
	recorded, warned := 0, 0
	for i := 0; i < 6; i++ {
		switch msg := readMessage(t, conn); msg.Type {
		case MsgAddEvent:
			recorded++
		case MsgShowSpeedWarning:
			warned++
			if msg.Message == "" {
				t.Error("speed warning broadcast without a message")
			}
		default:
			t.Errorf("unexpected broadcast %q", msg.Type)
		}
	}
	if recorded != 2 || warned != 4 {
		t.Errorf("broadcasts = %d recorded / %d warnings, want 2/4", recorded, warned)
	}
}

func TestGetInstructionAndWebsite(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	send(t, conn, Message{
		Type:        MsgStartSession,
		SessionID:   "ws-1",
		StartURL:    "https://shop.example",
		Instruction: "add a mug to the cart",
	})
	waitForState(t, h.orch, session.Active)

	send(t, conn, Message{Type: MsgGetInstruction})
	msg := readMessage(t, conn)
	if msg.Type != MsgGetInstruction || msg.Instruction != "add a mug to the cart" {
		t.Errorf("instruction response = %+v", msg)
	}

	send(t, conn, Message{Type: MsgGetWebsite})
	msg = readMessage(t, conn)
	if msg.Type != MsgGetWebsite || msg.Website != "https://shop.example" {
		t.Errorf("website response = %+v", msg)
	}
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	send(t, conn, Message{Type: "teleport"})

	// The read loop survives: a later well-formed request still answers.
	send(t, conn, Message{Type: MsgGetWebsite})
	msg := readMessage(t, conn)
	if msg.Type != MsgGetWebsite {
		t.Errorf("response after unknown type = %+v", msg)
	}
}

func TestUndecodableMessageIgnored(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	send(t, conn, Message{Type: MsgGetWebsite})
	msg := readMessage(t, conn)
	if msg.Type != MsgGetWebsite {
		t.Errorf("response after garbage = %+v", msg)
	}
}

func TestStopRecordingWithoutRecording(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	send(t, conn, Message{Type: MsgStopRecording, Target: TargetCapture})

	send(t, conn, Message{Type: MsgGetWebsite})
	if msg := readMessage(t, conn); msg.Type != MsgGetWebsite {
		t.Errorf("read loop died after a no-op stop: %+v", msg)
	}
}

func TestFinalAnswerFinishesSession(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	send(t, conn, Message{Type: MsgStartSession, SessionID: "ws-1"})
	waitForState(t, h.orch, session.Active)

	send(t, conn, Message{
		Type:  MsgSendFinalAnswer,
		Event: &event.Event{Type: event.FinalAnswer, Timestamp: 1000, Answer: "42 dollars"},
	})
	waitForState(t, h.orch, session.Idle)

	found := false
	for _, entry := range h.orch.Log().Snapshot() {
		if entry.Event.Type == event.FinalAnswer && entry.Event.Answer == "42 dollars" {
			found = true
		}
	}
	if !found {
		t.Error("final answer event missing from the log")
	}
}

func TestSessionEndpoint(t *testing.T) {
	h := newWSHarness(t)

	resp, err := http.Get(h.http.URL + "/api/session")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		State  string `json:"state"`
		Active bool   `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.State != "idle" || body.Active {
		t.Errorf("session endpoint = %+v", body)
	}
}

func TestEventsEndpoint(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	send(t, conn, Message{Type: MsgStartSession, SessionID: "ws-1"})
	waitForState(t, h.orch, session.Active)
	send(t, conn, Message{
		Type:  MsgRecordInteraction,
		Event: &event.Event{Type: event.Keypress, Timestamp: 1, Key: "Tab"},
	})
	deadline := time.Now().Add(2 * time.Second)
	for h.orch.Log().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(h.http.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var entries []event.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Event.Key != "Tab" {
		t.Errorf("events endpoint = %+v", entries)
	}
}
