package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/store/boltstore"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	db, err := boltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("boltstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	registry := ember.NewToolRegistry(nil)
	registry.Add(&stubTool{})

	return &API{
		Tools:    registry,
		Sessions: db.Sessions(),
		Blobs:    db.Blobs(),
		Provider: &stubProvider{},
	}
}

// stubTool answers every call with its args echoed back, for exercising
// POST /tools/{name}.
type stubTool struct{}

func (stubTool) Name() string { return "echo" }
func (stubTool) Description() ember.ToolDescription {
	return ember.ToolDescription{NameForModel: "echo", NameForHuman: "Echo"}
}
func (stubTool) Call(_ context.Context, args string) ([]ember.Content, error) {
	return []ember.Content{ember.NewText("echo:" + args)}, nil
}

// stubProvider never lists models, exercising the 501 branch of GET
// /models; modelListerProvider below exercises the success branch.
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }
func (stubProvider) ChatStream(_ context.Context, _ ember.ChatRequest, ch chan<- ember.StreamChunk) (ember.Usage, error) {
	close(ch)
	return ember.Usage{}, nil
}

type modelListerProvider struct {
	stubProvider
}

func (modelListerProvider) ListModels(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"data":[{"id":"test-model"}]}`), nil
}

func TestListTools(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tools")
	if err != nil {
		t.Fatalf("GET /tools: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var descs []ember.ToolDescription
	if err := json.NewDecoder(resp.Body).Decode(&descs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(descs) != 1 || descs[0].NameForModel != "echo" {
		t.Fatalf("descs = %+v, want one 'echo' tool", descs)
	}
}

func TestInvokeTool(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	body, _ := json.Marshal(invokeToolRequest{Args: "hello"})
	resp, err := http.Post(srv.URL+"/tools/echo", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /tools/echo: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var msg ember.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.Content) != 1 || msg.Content[0].Text != "echo:hello" {
		t.Fatalf("msg = %+v, want content 'echo:hello'", msg)
	}
}

func TestListModelsNotImplemented(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/models")
	if err != nil {
		t.Fatalf("GET /models: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", resp.StatusCode)
	}
}

func TestListModelsProxiesUpstream(t *testing.T) {
	api := newTestAPI(t)
	api.Provider = modelListerProvider{}
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/models")
	if err != nil {
		t.Fatalf("GET /models: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["data"]; !ok {
		t.Fatalf("body = %+v, want a 'data' key", body)
	}
}

func TestNewChatAndHistoryRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chat/new", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /chat/new: %v", err)
	}
	var entry ember.ChatEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if entry.ID == (ember.SessionID{}) {
		t.Fatal("new chat did not return an id")
	}

	listResp, err := http.Get(srv.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	var metas []ember.ChatMeta
	if err := json.NewDecoder(listResp.Body).Decode(&metas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	listResp.Body.Close()
	if len(metas) != 1 || metas[0].ID != entry.ID {
		t.Fatalf("metas = %+v, want one entry with id %v", metas, entry.ID)
	}

	getResp, err := http.Get(srv.URL + "/history/" + entry.ID.String())
	if err != nil {
		t.Fatalf("GET /history/{id}: %v", err)
	}
	var got ember.ChatEntry
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	getResp.Body.Close()
	if got.ID != entry.ID {
		t.Fatalf("got.ID = %v, want %v", got.ID, entry.ID)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/history/"+entry.ID.String(), nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /history/{id}: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", delResp.StatusCode)
	}

	afterResp, err := http.Get(srv.URL + "/history/" + entry.ID.String())
	if err != nil {
		t.Fatalf("GET /history/{id} after delete: %v", err)
	}
	afterResp.Body.Close()
	if afterResp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", afterResp.StatusCode)
	}
}

func TestGetHistoryInvalidID(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/history/not-a-valid-session-id")
	if err != nil {
		t.Fatalf("GET /history/{id}: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAssetUploadAndDownloadRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("payload", "note.bin")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	payload := []byte("arbitrary binary payload")
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/asset", &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /asset: %v", err)
	}
	var results []uploadResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(results) != 1 {
		t.Fatalf("results = %+v, want one upload", results)
	}

	getResp, err := http.Get(srv.URL + "/asset/" + results[0].UUID)
	if err != nil {
		t.Fatalf("GET /asset/{id}: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", getResp.StatusCode)
	}
	got := make([]byte, len(payload))
	if _, err := getResp.Body.Read(got); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestGetAssetMissing(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/asset/" + "00000000000000000000000000000")
	if err != nil {
		t.Fatalf("GET /asset/{id}: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
