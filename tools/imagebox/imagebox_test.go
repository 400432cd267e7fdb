package imagebox

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
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

func testImage(t *testing.T, blobs *memBlobs, w, h int) asset.ID {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	id, err := blobs.Save(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("save test image: %v", err)
	}
	return id
}

func TestZoomInSingleBox(t *testing.T) {
	blobs := newMemBlobs()
	id := testImage(t, blobs, 400, 300)

	tool := NewZoomIn(blobs)
	args, _ := json.Marshal(map[string]any{
		"img_idx": id.String(),
		"bbox_list": []map[string]any{
			{"bbox_2d": []float64{100, 100, 500, 500}, "label": "region"},
		},
	})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(content) != 1 || content[0].Kind != ember.ContentImageRef {
		t.Fatalf("content = %+v", content)
	}
	if content[0].Label != "region" {
		t.Errorf("label = %q, want region", content[0].Label)
	}
}

func TestZoomInTinyBoxExpands(t *testing.T) {
	blobs := newMemBlobs()
	id := testImage(t, blobs, 400, 300)

	tool := NewZoomIn(blobs)
	// A near-zero-size box should still centre-expand to >=32x32 and succeed.
	args, _ := json.Marshal(map[string]any{
		"img_idx": id.String(),
		"bbox_list": []map[string]any{
			{"bbox_2d": []float64{500, 500, 505, 505}},
		},
	})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(content) != 1 || content[0].Kind != ember.ContentImageRef {
		t.Fatalf("content = %+v", content)
	}
}

func TestBboxDrawBasic(t *testing.T) {
	blobs := newMemBlobs()
	id := testImage(t, blobs, 400, 300)

	tool := NewBboxDraw(blobs)
	args, _ := json.Marshal(map[string]any{
		"img_idx": id.String(),
		"bboxes": []map[string]any{
			{"bbox_2d": []float64{100, 100, 500, 500}, "label": "cat"},
			{"bbox_2d": []float64{600, 600, 900, 900}, "label": "dog"},
		},
	})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(content) != 1 || content[0].Kind != ember.ContentImageRef {
		t.Fatalf("content = %+v", content)
	}
}

func TestBboxDrawUpscalesSmallImage(t *testing.T) {
	blobs := newMemBlobs()
	id := testImage(t, blobs, 64, 64)

	tool := NewBboxDraw(blobs)
	args, _ := json.Marshal(map[string]any{
		"img_idx": id.String(),
		"bboxes": []map[string]any{
			{"bbox_2d": []float64{100, 100, 900, 900}, "label": "x"},
		},
	})
	content, err := tool.Call(context.Background(), string(args))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	data, ok := blobs.saved[content[0].AssetID]
	if !ok {
		t.Fatal("annotated image not stored")
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Width < minAnnotatableSide || cfg.Height < minAnnotatableSide {
		t.Errorf("expected upscale to >= %d, got %dx%d", minAnnotatableSide, cfg.Width, cfg.Height)
	}
}

func TestSmartResizeWithinBounds(t *testing.T) {
	h, w := smartResize(100, 100, resizeFactor, defaultMinPixels, defaultMaxPixels)
	if h*w < defaultMinPixels {
		t.Errorf("resized area %d below min %d", h*w, defaultMinPixels)
	}
}
