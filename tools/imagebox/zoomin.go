package imagebox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/disintegration/imaging"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
	"github.com/emberhq/ember/store"
)

// ZoomInTool implements image_zoom_in_tool: crop and upscale one or more
// regions of a stored image, returning one new ImageRef per requested
// region.
type ZoomInTool struct {
	blobs store.BlobStore
}

func NewZoomIn(blobs store.BlobStore) *ZoomInTool { return &ZoomInTool{blobs: blobs} }

func (t *ZoomInTool) Name() string { return "image_zoom_in_tool" }

func (t *ZoomInTool) Description() ember.ToolDescription {
	return ember.ToolDescription{
		NameForModel:        "image_zoom_in_tool",
		NameForHuman:        "image crop and zoom-in tool",
		DescriptionForModel: "Crop and zoom in on one or more regions of a previously seen image, identified by bounding box. Each region is returned as a new image.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"img_idx": {"type": "string", "description": "The id of the source image."},
				"bbox_list": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"bbox_2d": {"type": "array", "items": {"type": "number"}, "minItems": 4, "maxItems": 4, "description": "[x1,y1,x2,y2] in the 0-1000 normalized coordinate space."},
							"label": {"type": "string"}
						},
						"required": ["bbox_2d"]
					}
				}
			},
			"required": ["img_idx", "bbox_list"]
		}`),
		ArgsFormat: "Input must be a JSON object; images are referenced by their id.",
	}
}

type zoomArgs struct {
	ImgIdx   string `json:"img_idx"`
	BBoxList []struct {
		BBox2D [4]float64 `json:"bbox_2d"`
		Label  string     `json:"label"`
	} `json:"bbox_list"`
}

func (t *ZoomInTool) Call(ctx context.Context, args string) ([]ember.Content, error) {
	var a zoomArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return nil, fmt.Errorf("image_zoom_in_tool: invalid args: %w", err)
	}
	id, err := asset.Parse(a.ImgIdx)
	if err != nil {
		return nil, fmt.Errorf("image_zoom_in_tool: invalid img_idx: %w", err)
	}
	data, err := t.blobs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("image_zoom_in_tool: %w", err)
	}
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("image_zoom_in_tool: decoding source image: %w", err)
	}

	out := make([]ember.Content, 0, len(a.BBoxList))
	for _, item := range a.BBoxList {
		bbox := BBox{item.BBox2D[0], item.BBox2D[1], item.BBox2D[2], item.BBox2D[3]}
		cropped, err := zoomIn(src, bbox)
		if err != nil {
			return nil, fmt.Errorf("image_zoom_in_tool: %w", err)
		}
		newID, err := t.blobs.Save(ctx, cropped)
		if err != nil {
			return nil, fmt.Errorf("image_zoom_in_tool: storing crop: %w", err)
		}
		out = append(out, ember.NewImageRef(newID, item.Label))
	}
	return out, nil
}

// zoomIn crops src to bbox (expanded to a 32x32 minimum, centred on the
// original box, if it is smaller) and smart-resizes the result.
func zoomIn(src image.Image, bbox BBox) ([]byte, error) {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	x1, y1, x2, y2 := bbox.toPixels(width, height)
	x1, y1, x2, y2 = validateAndExpand(x1, y1, x2, y2, float64(width), float64(height))

	left, top := int(math.Floor(x1)), int(math.Floor(y1))
	right, bottom := int(math.Floor(x2)), int(math.Floor(y2))
	cropW, cropH := right-left, bottom-top
	if cropW <= 0 || cropH <= 0 {
		return nil, fmt.Errorf("bounding box collapses to an empty region")
	}

	cropped := imaging.Crop(src, image.Rect(left, top, left+cropW, top+cropH))

	newH, newW := smartResize(cropH, cropW, resizeFactor, defaultMinPixels, defaultMaxPixels)
	resized := imaging.Resize(cropped, newW, newH, imaging.Lanczos)

	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return nil, fmt.Errorf("encoding crop: %w", err)
	}
	return buf.Bytes(), nil
}

// validateAndExpand clamps a pixel bbox to the image bounds, then
// centre-expands it to a 32x32 minimum (re-clamped to bounds) if either
// dimension is smaller.
func validateAndExpand(x1, y1, x2, y2, imgW, imgH float64) (nx1, ny1, nx2, ny2 float64) {
	left, top := math.Max(x1, 0), math.Max(y1, 0)
	right, bottom := math.Min(x2, imgW), math.Min(y2, imgH)

	w, h := right-left, bottom-top
	const minSide = 32.0
	if w >= minSide && h >= minSide {
		return left, top, right, bottom
	}

	cx, cy := (left+right)/2, (top+bottom)/2
	ratio := minSide / math.Min(h, w)
	halfH, halfW := math.Ceil(h*ratio*0.5), math.Ceil(w*ratio*0.5)

	newLeft := math.Max(math.Floor(cx-halfW), 0)
	newTop := math.Max(math.Floor(cy-halfH), 0)
	newRight := math.Min(math.Ceil(cx+halfW), imgW)
	newBottom := math.Min(math.Ceil(cy+halfH), imgH)

	if newRight-newLeft > minSide && newBottom-newTop > minSide {
		return newLeft, newTop, newRight, newBottom
	}
	return left, top, right, bottom
}

var _ ember.Tool = (*ZoomInTool)(nil)
