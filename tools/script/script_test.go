package script

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
)

type memBlobs struct {
	saved map[asset.ID][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{saved: make(map[asset.ID][]byte)} }

func (m *memBlobs) Save(_ context.Context, data []byte) (asset.ID, error) {
	id := asset.FromData(data)
	m.saved[id] = data
	return id, nil
}
func (m *memBlobs) Get(_ context.Context, id asset.ID) ([]byte, error) {
	d, ok := m.saved[id]
	if !ok {
		return nil, ember.ErrNotFound
	}
	return d, nil
}
func (m *memBlobs) Peek(_ context.Context, id asset.ID, n int) ([]byte, int, error) {
	d, ok := m.saved[id]
	if !ok {
		return nil, 0, ember.ErrNotFound
	}
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

func TestExecuteCodeReturnsValue(t *testing.T) {
	tool := New(newMemBlobs())
	content, err := tool.Call(context.Background(), `{"code": "return 1 + 2;"}`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(content) != 1 || content[0].Kind != ember.ContentText {
		t.Fatalf("content = %+v", content)
	}
	if !strings.Contains(content[0].Text, "Return: 3") {
		t.Errorf("text = %q, want it to contain Return: 3", content[0].Text)
	}
}

func TestExecuteCodeConsoleLog(t *testing.T) {
	tool := New(newMemBlobs())
	content, err := tool.Call(context.Background(), `{"code": "console.log('hello', 42); return 'done';"}`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(content[0].Text, "hello 42") {
		t.Errorf("text = %q, want it to contain the logged line", content[0].Text)
	}
}

func TestExecuteCodeSaveBlob(t *testing.T) {
	blobs := newMemBlobs()
	tool := New(blobs)
	code := `
		const buf = new TextEncoder().encode("payload");
		const id = save_blob("asset", buf);
		return id;
	`
	args, _ := json.Marshal(map[string]string{"code": code})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	found := false
	for _, c := range content {
		if c.Kind == ember.ContentAssetRef {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an AssetRef content part, got %+v", content)
	}
}

func TestExecuteCodeRuntimeError(t *testing.T) {
	tool := New(newMemBlobs())
	content, err := tool.Call(context.Background(), `{"code": "throw new Error('boom');"}`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(content[0].Text, "Runtime Error") {
		t.Errorf("text = %q, want a Runtime Error marker", content[0].Text)
	}
}

func TestExecuteCodeFSRoundTrip(t *testing.T) {
	tool := New(newMemBlobs())
	code := `
		fs.writeFileSync("/tmp/note.txt", "hello fs");
		const back = fs.readFileSync("/tmp/note.txt", "utf8");
		const viaPromise = await fs.promises.readFile("/tmp/note.txt", "utf8");
		return back === viaPromise && fs.existsSync("/tmp/note.txt") ? back : "mismatch";
	`
	args, _ := json.Marshal(map[string]string{"code": code})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(content[0].Text, "Return: hello fs") {
		t.Errorf("text = %q, want it to contain Return: hello fs", content[0].Text)
	}
}

func TestExecuteCodeFSUnlinkAndMissing(t *testing.T) {
	tool := New(newMemBlobs())
	code := `
		fs.writeFileSync("/tmp/gone.txt", "x");
		fs.unlinkSync("/tmp/gone.txt");
		return fs.existsSync("/tmp/gone.txt");
	`
	args, _ := json.Marshal(map[string]string{"code": code})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(content[0].Text, "Return: false") {
		t.Errorf("text = %q, want Return: false after unlink", content[0].Text)
	}
}

func TestExecuteCodeRequirePreloadedLibraries(t *testing.T) {
	tool := New(newMemBlobs())
	code := `
		const _ = require("lodash");
		const mustache = require("mustache");
		const asciichart = require("asciichart");
		const grouped = _.groupBy([1, 2, 3, 4], (n) => n % 2 === 0 ? "even" : "odd");
		const rendered = mustache.render("hi {{name}}", { name: "world" });
		const chart = asciichart.plot([1, 2, 3, 2, 1]);
		return grouped.even.length === 2 && rendered === "hi world" && chart.indexOf("*") >= 0;
	`
	args, _ := json.Marshal(map[string]string{"code": code})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(content[0].Text, "Return: true") {
		t.Errorf("text = %q, want Return: true", content[0].Text)
	}
}

func TestExecuteCodeRequireUnknownModuleThrows(t *testing.T) {
	tool := New(newMemBlobs())
	content, err := tool.Call(context.Background(), `{"code": "require('left-pad');"}`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(content[0].Text, "Runtime Error") {
		t.Errorf("text = %q, want a Runtime Error for an unknown module", content[0].Text)
	}
}

func TestExecuteCodeTimerRunsOnce(t *testing.T) {
	tool := New(newMemBlobs())
	content, err := tool.Call(context.Background(), `{"code": "setTimeout(() => console.log('fired'), 100); return 'ok';"}`)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(content[0].Text, "fired") {
		t.Errorf("text = %q, want the deferred log to have run", content[0].Text)
	}
}
