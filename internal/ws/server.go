package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/webolmo/recorder/internal/capture"
	"github.com/webolmo/recorder/internal/detect"
	"github.com/webolmo/recorder/internal/session"
)

// Server accepts page-bridge and side-panel connections and dispatches
// their messages into the orchestrator. One handler per context; errors
// inside a single dispatch are logged and never abort the read loop.
type Server struct {
	hub      *Hub
	orch     *session.Orchestrator
	recorder *capture.Recorder
	source   capture.Source // nil when no capture primitive is attached
	guard    *detect.Guard
	logger   logrus.FieldLogger
}

func NewServer(hub *Hub, orch *session.Orchestrator, recorder *capture.Recorder, source capture.Source, logger logrus.FieldLogger) *Server {
	return &Server{
		hub:      hub,
		orch:     orch,
		recorder: recorder,
		source:   source,
		guard:    detect.NewGuard(hub, logger),
		logger:   logger.WithField("component", "ws"),
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/events", s.handleEvents)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		// Local bridge: the page and panel connect from extension origins.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("ws upgrade")
		return
	}

	s.logger.WithField("remote", r.RemoteAddr).Info("context connected")
	c := s.hub.AddClient(conn)

	defer func() {
		s.hub.RemoveClient(c)
		s.logger.WithField("remote", r.RemoteAddr).Info("context disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.WithError(err).Warn("undecodable message")
			continue
		}
		s.dispatch(r.Context(), msg, c)
	}
}

func (s *Server) dispatch(ctx context.Context, msg Message, c *Client) {
	switch msg.Type {
	case MsgRecordInteraction:
		if msg.Event == nil {
			s.logger.Warn("recordInteraction without an event")
			return
		}
		takeScreenshot := true
		if msg.TakeScreenshot != nil {
			takeScreenshot = *msg.TakeScreenshot
		}
		// The page bridge delivers pre-normalized events, so the rate gate
		// runs here rather than in a Detector.
		if !s.guard.Admit(*msg.Event, takeScreenshot) {
			return
		}
		if err := s.orch.Ingest(ctx, *msg.Event, msg.HTML, takeScreenshot, msg.TabID); err != nil {
			s.logger.WithError(err).WithField("type", msg.Event.Type.String()).Warn("recording interaction")
		}

	case MsgStartSession:
		err := s.orch.Start(ctx, session.StartRequest{
			SessionID:   msg.SessionID,
			StartURL:    msg.StartURL,
			Instruction: msg.Instruction,
			TaskSteps:   msg.TaskSteps,
			UploadURL:   msg.UploadURL,
			TabID:       msg.TabID,
		})
		if err != nil {
			s.logger.WithError(err).Error("starting session")
		}

	case MsgSendNote, MsgSendQuestionAndAnswer, MsgTakeScreenshot, MsgCompleteStep, MsgCompleteTask:
		s.ingestUIEvent(ctx, msg)

	case MsgSendFinalAnswer:
		s.ingestUIEvent(ctx, msg)
		// Finish blocks on the upload; keep the read loop responsive.
		go func() {
			if err := s.orch.Finish(context.Background()); err != nil {
				s.logger.WithError(err).Error("finishing session")
			}
		}()

	case MsgGetInstruction:
		c.Send(Message{Type: MsgGetInstruction, Instruction: s.orch.Instruction(ctx)})

	case MsgGetWebsite:
		c.Send(Message{Type: MsgGetWebsite, Website: s.orch.Website(ctx)})

	case MsgRetryUpload:
		go func() {
			if err := s.orch.RetryUpload(context.Background()); err != nil {
				s.logger.WithError(err).Error("retrying upload")
			}
		}()

	case MsgStartRecording:
		s.startRecording(ctx, msg)

	case MsgStopRecording:
		if _, err := s.recorder.Stop(); err != nil {
			s.logger.WithError(err).Warn("stopping recording")
		}

	default:
		s.logger.WithField("type", string(msg.Type)).Warn("unknown message type")
	}
}

func (s *Server) ingestUIEvent(ctx context.Context, msg Message) {
	if msg.Event == nil {
		s.logger.WithField("type", string(msg.Type)).Warn("message without an event")
		return
	}
	if err := s.orch.Ingest(ctx, *msg.Event, msg.HTML, true, msg.TabID); err != nil {
		s.logger.WithError(err).WithField("type", string(msg.Type)).Warn("recording interaction")
	}
}

func (s *Server) startRecording(ctx context.Context, msg Message) {
	if s.source == nil {
		s.logger.Warn("start-recording with no capture source attached")
		return
	}
	stream, err := s.source.CaptureTarget(ctx, msg.TabID)
	if err != nil {
		s.logger.WithError(err).Error("resolving capture target")
		return
	}
	if err := s.recorder.Start(stream); err != nil {
		s.logger.WithError(err).Error("starting recording")
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, active := s.orch.Current()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"state":   s.orch.State().String(),
		"active":  active,
		"session": sess,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.orch.Log().Snapshot())
}

// ListenAndServe binds host:port and serves mux.
func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	return http.ListenAndServe(addr, mux)
}
