// Package inspector implements ResourceInspector, a lightweight "what is
// this blob" tool: it peeks at the leading bytes of a stored asset and
// reports a short text summary, plus a thumbnail ImageRef when the blob is
// itself an image.
package inspector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
	"github.com/emberhq/ember/store"
)

// peekBytes is how much of the blob is read to classify it and to build
// the textual preview; it need not cover the whole asset.
const peekBytes = 4096

type Tool struct {
	blobs store.BlobStore
}

func New(blobs store.BlobStore) *Tool { return &Tool{blobs: blobs} }

func (t *Tool) Name() string { return "ResourceInspector" }

func (t *Tool) Description() ember.ToolDescription {
	return ember.ToolDescription{
		NameForModel:        "ResourceInspector",
		NameForHuman:        "resource inspector",
		DescriptionForModel: "Inspect a previously stored image or asset: reports its size and media type, and for images returns a thumbnail.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"uuid": {"type": "string", "description": "The id of the blob to inspect."},
				"type": {"type": "string", "enum": ["image", "asset"], "description": "Hint for how to label the blob; inferred from content if omitted."}
			},
			"required": ["uuid"]
		}`),
		ArgsFormat: "Input must be a JSON object.",
	}
}

type inspectArgs struct {
	UUID string `json:"uuid"`
	Type string `json:"type"`
}

func (t *Tool) Call(ctx context.Context, args string) ([]ember.Content, error) {
	var a inspectArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return nil, fmt.Errorf("ResourceInspector: invalid args: %w", err)
	}
	id, err := asset.Parse(a.UUID)
	if err != nil {
		return nil, fmt.Errorf("ResourceInspector: invalid uuid: %w", err)
	}
	prefix, total, err := t.blobs.Peek(ctx, id, peekBytes)
	if err != nil {
		return nil, fmt.Errorf("ResourceInspector: %w", err)
	}

	mt := mimetype.Detect(prefix)
	summary := fmt.Sprintf("Resource %s: %s, %d bytes", id, mt.String(), total)

	if !isImage(mt.String()) {
		return []ember.Content{ember.NewText(summary)}, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(prefix))
	if err != nil {
		// Truncated prefix couldn't be decoded as an image; fetch the
		// full blob once to read its dimensions.
		full, err := t.blobs.Get(ctx, id)
		if err != nil {
			return []ember.Content{ember.NewText(summary)}, nil
		}
		cfg, format, err = image.DecodeConfig(bytes.NewReader(full))
		if err != nil {
			return []ember.Content{ember.NewText(summary)}, nil
		}
	}
	summary = fmt.Sprintf("%s (%s, %dx%d)", summary, format, cfg.Width, cfg.Height)
	return []ember.Content{
		ember.NewText(summary),
		ember.NewImageRef(id, "thumbnail"),
	}, nil
}

func isImage(mimeType string) bool {
	return len(mimeType) >= 6 && mimeType[:6] == "image/"
}

var _ ember.Tool = (*Tool)(nil)
