package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
)

// memBlobs is a minimal in-memory store.BlobStore for exercising the tool
// without a real backend.
type memBlobs struct {
	saved map[asset.ID][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{saved: make(map[asset.ID][]byte)} }

func (m *memBlobs) Save(_ context.Context, data []byte) (asset.ID, error) {
	id := asset.FromData(data)
	m.saved[id] = data
	return id, nil
}
func (m *memBlobs) Get(_ context.Context, id asset.ID) ([]byte, error) { return m.saved[id], nil }
func (m *memBlobs) Peek(_ context.Context, id asset.ID, n int) ([]byte, int, error) {
	d := m.saved[id]
	if n > len(d) {
		n = len(d)
	}
	return d[:n], len(d), nil
}
func (m *memBlobs) Retain(_ context.Context, id asset.ID) error { return nil }
func (m *memBlobs) Release(_ context.Context, id asset.ID) (bool, error) {
	delete(m.saved, id)
	return true, nil
}
func (m *memBlobs) Close() error { return nil }

func TestCurlURLHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><h1>Title</h1><p>Hello <strong>world</strong>, see <a href=\"https://example.com\">here</a>.</p></body></html>"))
	}))
	defer srv.Close()

	tool := New(newMemBlobs())
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(content) != 1 || content[0].Kind != ember.ContentText {
		t.Fatalf("content = %+v", content)
	}
	if content[0].Text == "" {
		t.Error("expected non-empty markdown")
	}
}

func TestCurlURLJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tool := New(newMemBlobs())
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(content) != 1 || content[0].Text != `{"ok":true}` {
		t.Fatalf("content = %+v", content)
	}
}

func TestCurlURLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	tool := New(newMemBlobs())
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call returned error instead of textual failure: %v", err)
	}
	if len(content) != 1 || content[0].Kind != ember.ContentText {
		t.Fatalf("content = %+v", content)
	}
}

func TestCurlURLBinaryAsset(t *testing.T) {
	payload := make([]byte, 20*1024)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(payload)
	}))
	defer srv.Close()

	blobs := newMemBlobs()
	tool := New(blobs)
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(content) != 1 || content[0].Kind != ember.ContentAssetRef {
		t.Fatalf("content = %+v", content)
	}
	if _, ok := blobs.saved[content[0].AssetID]; !ok {
		t.Error("expected asset to be saved in blob store")
	}
}

func TestHTMLToMarkdownBasic(t *testing.T) {
	md := htmlToMarkdown(`<h1>Hi</h1><p>a <em>b</em> <a href="x">c</a></p>`, []string{"script", "style"})
	if md == "" {
		t.Fatal("expected non-empty markdown")
	}
}
