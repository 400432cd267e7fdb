// Package transport exposes the orchestrator over a WebSocket control
// protocol and a companion REST surface: WebSocket for the chat stream
// itself, REST for tool listing, direct tool invocation, history, and blob
// upload/download.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberhq/ember"
)

// clientRequest mirrors the tagged ClientRequest union: Chat, Regenerate,
// Edit, and Abort frames sent by a connected client.
type clientRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type chatPayload struct {
	RequestID string          `json:"request_id"`
	ChatID    string          `json:"chat_id"`
	Content   []ember.Content `json:"content"`
	Config    ember.LLMConfig `json:"config"`
}

type regeneratePayload struct {
	RequestID string          `json:"request_id"`
	ChatID    string          `json:"chat_id"`
	MessageID string          `json:"message_id"`
	Config    ember.LLMConfig `json:"config"`
}

type editPayload struct {
	RequestID  string          `json:"request_id"`
	ChatID     string          `json:"chat_id"`
	MessageID  string          `json:"message_id"`
	NewContent []ember.Content `json:"new_content"`
	Config     ember.LLMConfig `json:"config"`
}

type abortPayload struct {
	RequestID string `json:"request_id"`
	ChatID    string `json:"chat_id"`
}

// outboundFrame is the flattened ChatEvent envelope delivered to the
// socket: {chat_id, request_id, ...ChatEvent fields}.
type outboundFrame struct {
	ChatID    string `json:"chat_id"`
	RequestID string `json:"request_id"`

	Kind   string        `json:"kind"`
	Text   string        `json:"text,omitempty"`
	Call   *ember.ToolUse `json:"call,omitempty"`
	Result *ember.Message `json:"result,omitempty"`
	Usage  *ember.Usage   `json:"usage,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func kindName(k ember.ChatEventKind) string {
	switch k {
	case ember.ChatReasoningDelta:
		return "reasoning_delta"
	case ember.ChatContentDelta:
		return "content_delta"
	case ember.ChatToolDelta:
		return "tool_delta"
	case ember.ChatToolCall:
		return "tool_call"
	case ember.ChatToolResult:
		return "tool_result"
	case ember.ChatUsage:
		return "usage"
	case ember.ChatStreamEnd:
		return "stream_end"
	case ember.ChatError:
		return "error"
	default:
		return "unknown"
	}
}

// TaskControl lets a multiplexer cancel one in-flight request independent
// of the others sharing its connection.
type TaskControl struct {
	cancel context.CancelFunc
}

// session is the per-client multiplexer: one goroutine reads frames off the
// socket and spawns orchestrator tasks, one goroutine drains the outbound
// channel onto the socket, and active_tasks tracks cancellation handles
// keyed by request id so Abort can reach the right task.
type session struct {
	conn *websocket.Conn
	orch *ember.Orchestrator
	log  *slog.Logger

	mu          sync.Mutex
	activeTasks map[string]*TaskControl

	outbound chan outboundFrame

	writeMu sync.Mutex
}

func newSession(conn *websocket.Conn, orch *ember.Orchestrator, log *slog.Logger) *session {
	return &session{
		conn:        conn,
		orch:        orch,
		log:         log,
		activeTasks: make(map[string]*TaskControl),
		outbound:    make(chan outboundFrame, 64),
	}
}

// run drives the connection until it closes or ctx is cancelled. Connection
// closure cancels every entry in active_tasks.
func (s *session) run(ctx context.Context) {
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	go s.writeLoop(connCtx)

	defer func() {
		s.mu.Lock()
		for _, tc := range s.activeTasks {
			tc.cancel()
		}
		s.activeTasks = map[string]*TaskControl{}
		s.mu.Unlock()
	}()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var req clientRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			s.log.Warn("transport: malformed client frame", "error", err)
			continue
		}
		s.handle(connCtx, req)
	}
}

func (s *session) handle(ctx context.Context, req clientRequest) {
	switch req.Type {
	case "Chat":
		var p chatPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			s.log.Warn("transport: malformed Chat payload", "error", err)
			return
		}
		s.spawn(ctx, p.RequestID, p.ChatID, p.Config, ember.UserTurn(p.Content))
	case "Regenerate":
		var p regeneratePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			s.log.Warn("transport: malformed Regenerate payload", "error", err)
			return
		}
		s.spawn(ctx, p.RequestID, p.ChatID, p.Config, ember.RegenerateTurn(p.MessageID))
	case "Edit":
		var p editPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			s.log.Warn("transport: malformed Edit payload", "error", err)
			return
		}
		s.spawn(ctx, p.RequestID, p.ChatID, p.Config, ember.EditTurn(p.MessageID, p.NewContent))
	case "Abort":
		var p abortPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			s.log.Warn("transport: malformed Abort payload", "error", err)
			return
		}
		s.abort(p.RequestID)
	default:
		s.log.Warn("transport: unknown client frame type", "type", req.Type)
	}
}

func (s *session) spawn(ctx context.Context, requestID, chatID string, cfg ember.LLMConfig, input ember.TurnInput) {
	sessionID, err := ember.ParseSessionID(chatID)
	if err != nil {
		s.send(outboundFrame{ChatID: chatID, RequestID: requestID, Kind: "error", Error: fmt.Sprintf("bad chat_id: %v", err)})
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	tc := &TaskControl{cancel: cancel}

	s.mu.Lock()
	s.activeTasks[requestID] = tc
	s.mu.Unlock()

	events, err := s.orch.Run(taskCtx, sessionID, cfg, input)
	if err != nil {
		cancel()
		s.mu.Lock()
		delete(s.activeTasks, requestID)
		s.mu.Unlock()
		s.send(outboundFrame{ChatID: chatID, RequestID: requestID, Kind: "error", Error: err.Error()})
		return
	}

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.activeTasks, requestID)
			s.mu.Unlock()
		}()
		for ev := range events {
			frame := outboundFrame{ChatID: chatID, RequestID: requestID, Kind: kindName(ev.Kind), Text: ev.Text}
			if ev.Call != nil {
				frame.Call = ev.Call
			}
			if ev.Result != nil {
				frame.Result = ev.Result
			}
			if ev.Kind == ember.ChatUsage {
				u := ev.Usage
				frame.Usage = &u
			}
			if ev.Err != nil {
				frame.Error = ev.Err.Error()
			}
			if !s.send(frame) {
				return
			}
		}
	}()
}

// abort cancels the named request's TaskControl, if it is still active.
// Unknown or already-finished request ids are a no-op.
func (s *session) abort(requestID string) {
	s.mu.Lock()
	tc, ok := s.activeTasks[requestID]
	s.mu.Unlock()
	if ok {
		tc.cancel()
	}
}

// send enqueues a frame on the outbound channel, blocking under
// backpressure for up to 30 seconds. If the frame still cannot be queued
// (the writer has stopped or stalled), it is dropped and send reports
// false, so the caller's forwarding loop can stop.
func (s *session) send(frame outboundFrame) bool {
	select {
	case s.outbound <- frame:
		return true
	case <-time.After(30 * time.Second):
		s.log.Warn("transport: outbound channel stalled, dropping connection")
		return false
	}
}

func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.outbound:
			if !ok {
				return
			}
			s.writeMu.Lock()
			err := s.conn.WriteJSON(frame)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and runs its multiplexer loop until the
// socket closes or the request context is cancelled.
func ServeWS(orch *ember.Orchestrator, log *slog.Logger) http.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("transport: websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sess := newSession(conn, orch, log)
		sess.run(r.Context())
	}
}
