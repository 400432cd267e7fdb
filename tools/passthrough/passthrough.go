// Package passthrough implements the Image and Asset tools: a way to
// manually re-inject a blob the user already has a reference to back into
// the conversation, without the model ever calling them itself.
package passthrough

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
	"github.com/emberhq/ember/store"
)

const previewBytes = 32

func bytesPreview(b []byte) string {
	if len(b) > previewBytes {
		b = b[:previewBytes]
	}
	return hex.EncodeToString(b)
}

// ImageTool re-exposes a stored image as an ImageRef. It is hidden from the
// model's tool catalogue and offered only for manual human invocation.
type ImageTool struct {
	blobs store.BlobStore
}

func NewImage(blobs store.BlobStore) *ImageTool { return &ImageTool{blobs: blobs} }

func (t *ImageTool) Name() string { return "Image" }

func (t *ImageTool) Description() ember.ToolDescription {
	return ember.ToolDescription{
		NameForModel:        "Image",
		NameForHuman:        "View Image",
		DescriptionForModel: "View Image",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"img_idx": {"type": "string", "description": "Image UUID"}},
			"required": ["img_idx"]
		}`),
		ArgsFormat: "JSON",
	}
}

func (t *ImageTool) VisibleToModel() bool { return false }
func (t *ImageTool) VisibleToHuman() bool { return true }

type imageArgs struct {
	ImgIdx string `json:"img_idx"`
}

func (t *ImageTool) Call(ctx context.Context, args string) ([]ember.Content, error) {
	var a imageArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return nil, fmt.Errorf("Image: invalid args: %w", err)
	}
	id, err := asset.Parse(a.ImgIdx)
	if err != nil {
		return nil, fmt.Errorf("Image: invalid img_idx: %w", err)
	}
	data, err := t.blobs.Get(ctx, id)
	if errors.Is(err, ember.ErrNotFound) {
		return []ember.Content{ember.NewText("Image does not exist.")}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Image: %w", err)
	}
	if err := t.blobs.Retain(ctx, id); err != nil {
		return nil, fmt.Errorf("Image: %w", err)
	}
	label := fmt.Sprintf("FileSize:%d,Preview:%s", len(data), bytesPreview(data))
	return []ember.Content{ember.NewImageRef(id, label)}, nil
}

var _ ember.Tool = (*ImageTool)(nil)
var _ ember.VisibilityTool = (*ImageTool)(nil)

// AssetTool re-exposes a stored non-image blob as an AssetRef, with the
// same manual-only visibility as ImageTool.
type AssetTool struct {
	blobs store.BlobStore
}

func NewAsset(blobs store.BlobStore) *AssetTool { return &AssetTool{blobs: blobs} }

func (t *AssetTool) Name() string { return "Asset" }

func (t *AssetTool) Description() ember.ToolDescription {
	return ember.ToolDescription{
		NameForModel:        "Asset",
		NameForHuman:        "View Asset",
		DescriptionForModel: "View Asset",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"asset_idx": {"type": "string", "description": "Asset UUID"}},
			"required": ["asset_idx"]
		}`),
		ArgsFormat: "JSON",
	}
}

func (t *AssetTool) VisibleToModel() bool { return false }
func (t *AssetTool) VisibleToHuman() bool { return true }

type assetArgs struct {
	AssetIdx string `json:"asset_idx"`
}

func (t *AssetTool) Call(ctx context.Context, args string) ([]ember.Content, error) {
	var a assetArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return nil, fmt.Errorf("Asset: invalid args: %w", err)
	}
	id, err := asset.Parse(a.AssetIdx)
	if err != nil {
		return nil, fmt.Errorf("Asset: invalid asset_idx: %w", err)
	}
	data, err := t.blobs.Get(ctx, id)
	if errors.Is(err, ember.ErrNotFound) {
		return []ember.Content{ember.NewText("Asset does not exist.")}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Asset: %w", err)
	}
	if err := t.blobs.Retain(ctx, id); err != nil {
		return nil, fmt.Errorf("Asset: %w", err)
	}
	label := fmt.Sprintf("FileSize:%d,Preview:%s", len(data), bytesPreview(data))
	return []ember.Content{ember.NewAssetRef(id, label)}, nil
}

var _ ember.Tool = (*AssetTool)(nil)
var _ ember.VisibilityTool = (*AssetTool)(nil)
