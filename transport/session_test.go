package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/store/boltstore"
)

// wsScriptedProvider streams a fixed chunk of content text, optionally
// blocking until its context is cancelled first (to exercise Abort). When
// aborted is set, it is closed once that cancellation has been observed.
type wsScriptedProvider struct {
	text       string
	blockOnCtx bool
	aborted    chan struct{}
}

func (p *wsScriptedProvider) Name() string { return "ws-scripted" }

func (p *wsScriptedProvider) ChatStream(ctx context.Context, req ember.ChatRequest, ch chan<- ember.StreamChunk) (ember.Usage, error) {
	defer close(ch)
	if p.blockOnCtx {
		<-ctx.Done()
		if p.aborted != nil {
			close(p.aborted)
		}
		return ember.Usage{}, ctx.Err()
	}
	select {
	case ch <- ember.StreamChunk{Kind: ember.StreamChunkContent, Text: p.text}:
	case <-ctx.Done():
		return ember.Usage{}, ctx.Err()
	}
	return ember.Usage{}, nil
}

func newTestOrchestrator(t *testing.T, provider ember.Provider) (*ember.Orchestrator, ember.SessionID) {
	t.Helper()
	db, err := boltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("boltstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	id, err := db.Sessions().Append(context.Background(), ember.ChatMeta{}, ember.ChatEntry{})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	registry := ember.NewToolRegistry(nil)
	orch := ember.NewOrchestrator(provider, registry, db.Sessions(), db.Blobs(), nil, ember.LLMConfig{}, nil)
	return orch, id
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrames(t *testing.T, conn *websocket.Conn, until string) []outboundFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frames []outboundFrame
	for {
		var f outboundFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		frames = append(frames, f)
		if f.Kind == until {
			return frames
		}
	}
}

func TestServeWSChatRoundTrip(t *testing.T) {
	provider := &wsScriptedProvider{text: "hello over the wire"}
	orch, chatID := newTestOrchestrator(t, provider)

	srv := httptest.NewServer(http.HandlerFunc(ServeWS(orch, nil)))
	defer srv.Close()

	conn := dialWS(t, srv)

	payload, _ := json.Marshal(chatPayload{
		RequestID: "req-1",
		ChatID:    chatID.String(),
		Content:   []ember.Content{ember.NewText("hi")},
	})
	req := clientRequest{Type: "Chat", Payload: payload}
	reqBytes, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	frames := readFrames(t, conn, "stream_end")

	var contentText string
	for _, f := range frames {
		if f.Kind == "content_delta" {
			contentText += f.Text
		}
		if f.RequestID != "req-1" {
			t.Errorf("frame.RequestID = %q, want %q", f.RequestID, "req-1")
		}
	}
	if contentText != "hello over the wire" {
		t.Errorf("content = %q, want %q", contentText, "hello over the wire")
	}
}

func TestServeWSBadChatIDReturnsErrorFrame(t *testing.T) {
	provider := &wsScriptedProvider{text: "unused"}
	orch, _ := newTestOrchestrator(t, provider)

	srv := httptest.NewServer(http.HandlerFunc(ServeWS(orch, nil)))
	defer srv.Close()

	conn := dialWS(t, srv)

	payload, _ := json.Marshal(chatPayload{
		RequestID: "req-bad",
		ChatID:    "not-a-session-id",
		Content:   []ember.Content{ember.NewText("hi")},
	})
	req := clientRequest{Type: "Chat", Payload: payload}
	reqBytes, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	frames := readFrames(t, conn, "error")
	last := frames[len(frames)-1]
	if last.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestServeWSAbortCancelsInFlightTask(t *testing.T) {
	provider := &wsScriptedProvider{blockOnCtx: true, aborted: make(chan struct{})}
	orch, chatID := newTestOrchestrator(t, provider)

	srv := httptest.NewServer(http.HandlerFunc(ServeWS(orch, nil)))
	defer srv.Close()

	conn := dialWS(t, srv)

	chatPl, _ := json.Marshal(chatPayload{
		RequestID: "req-abort",
		ChatID:    chatID.String(),
		Content:   []ember.Content{ember.NewText("hi")},
	})
	chatReq, _ := json.Marshal(clientRequest{Type: "Chat", Payload: chatPl})
	if err := conn.WriteMessage(websocket.TextMessage, chatReq); err != nil {
		t.Fatalf("WriteMessage Chat: %v", err)
	}

	// Give spawn() time to register the task before aborting it.
	time.Sleep(100 * time.Millisecond)

	abortPl, _ := json.Marshal(abortPayload{RequestID: "req-abort", ChatID: chatID.String()})
	abortReq, _ := json.Marshal(clientRequest{Type: "Abort", Payload: abortPl})
	if err := conn.WriteMessage(websocket.TextMessage, abortReq); err != nil {
		t.Fatalf("WriteMessage Abort: %v", err)
	}

	select {
	case <-provider.aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("Abort did not cancel the in-flight provider call")
	}

	// Once Abort is accepted, no further frame for the request is delivered:
	// the read must time out instead of returning a frame.
	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	var f outboundFrame
	if err := conn.ReadJSON(&f); err == nil {
		t.Errorf("received %q frame for %q after Abort, want none", f.Kind, f.RequestID)
	}
}
