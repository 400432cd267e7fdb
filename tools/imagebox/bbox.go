package imagebox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
	"github.com/emberhq/ember/store"
)

// BboxDrawTool implements image_draw_bbox_2d_tool: overlay labelled
// rectangles on a stored image and return the annotated copy as a new
// image.
type BboxDrawTool struct {
	blobs store.BlobStore
}

func NewBboxDraw(blobs store.BlobStore) *BboxDrawTool { return &BboxDrawTool{blobs: blobs} }

func (t *BboxDrawTool) Name() string { return "image_draw_bbox_2d_tool" }

func (t *BboxDrawTool) Description() ember.ToolDescription {
	return ember.ToolDescription{
		NameForModel:        "image_draw_bbox_2d_tool",
		NameForHuman:        "bbox marker tool",
		DescriptionForModel: "Draw labelled rectangles on specific regions of a previously seen image, identified by bounding boxes.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"img_idx": {"type": "string", "description": "The id of the image to draw on."},
				"bboxes": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"bbox_2d": {"type": "array", "items": {"type": "number"}, "minItems": 4, "maxItems": 4},
							"label": {"type": "string"}
						},
						"required": ["bbox_2d"]
					}
				}
			},
			"required": ["img_idx", "bboxes"]
		}`),
		ArgsFormat: "Input must be a JSON object; images are referenced by their id.",
	}
}

type bboxDrawArgs struct {
	ImgIdx string `json:"img_idx"`
	Bboxes []struct {
		BBox2D [4]float64 `json:"bbox_2d"`
		Label  string     `json:"label"`
	} `json:"bboxes"`
}

func (t *BboxDrawTool) Call(ctx context.Context, args string) ([]ember.Content, error) {
	var a bboxDrawArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return nil, fmt.Errorf("image_draw_bbox_2d_tool: invalid args: %w", err)
	}
	id, err := asset.Parse(a.ImgIdx)
	if err != nil {
		return nil, fmt.Errorf("image_draw_bbox_2d_tool: invalid img_idx: %w", err)
	}
	data, err := t.blobs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("image_draw_bbox_2d_tool: %w", err)
	}
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("image_draw_bbox_2d_tool: decoding source image: %w", err)
	}

	boxes := make([]drawnBox, len(a.Bboxes))
	for i, item := range a.Bboxes {
		boxes[i] = drawnBox{
			BBox:  BBox{item.BBox2D[0], item.BBox2D[1], item.BBox2D[2], item.BBox2D[3]},
			Label: item.Label,
		}
	}

	out, err := drawBoxes(src, boxes)
	if err != nil {
		return nil, fmt.Errorf("image_draw_bbox_2d_tool: %w", err)
	}

	newID, err := t.blobs.Save(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("image_draw_bbox_2d_tool: storing annotated image: %w", err)
	}
	return []ember.Content{ember.NewImageRef(newID, "")}, nil
}

type drawnBox struct {
	BBox  BBox
	Label string
}

const (
	minAnnotatableSide = 128
	borderThickness    = 3
	textPadding        = 4
)

// drawBoxes renders hollow rectangles plus a translucent label strip above
// (or, if there is no room above, inside) each box, cycling colorPalette
// per distinct label. Images smaller than minAnnotatableSide on either
// side are upscaled first so thin borders and text remain legible.
func drawBoxes(src image.Image, boxes []drawnBox) ([]byte, error) {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	img := src
	if width < minAnnotatableSide || height < minAnnotatableSide {
		newH, newW := smartResize(height, width, 8, defaultMinPixels, defaultMaxPixels)
		img = imaging.Resize(img, newW, newH, imaging.Lanczos)
		width, height = newW, newH
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Src)

	labelColors := make(map[string]color.RGBA)
	next := 0
	colorFor := func(label string) color.RGBA {
		if c, ok := labelColors[label]; ok {
			return c
		}
		c := colorPalette[next%len(colorPalette)]
		next++
		labelColors[label] = c
		return c
	}

	face := basicfont.Face7x13

	for _, b := range boxes {
		c := colorFor(b.Label)
		x1, y1, x2, y2 := b.BBox.toPixels(width, height)
		ix1, iy1, ix2, iy2 := int(x1), int(y1), int(x2), int(y2)
		if ix2-ix1 <= 0 || iy2-iy1 <= 0 {
			continue
		}

		for i := 0; i < borderThickness; i++ {
			drawHollowRect(canvas, ix1+i, iy1+i, ix2-i, iy2-i, c)
		}

		if b.Label == "" {
			continue
		}
		textW := font.MeasureString(face, b.Label).Ceil()
		textH := face.Metrics().Height.Ceil()
		bgW, bgH := textW+textPadding*2, textH+textPadding*2

		bgX, bgY := ix1, iy1-bgH
		textX, textY := ix1+textPadding, iy1-bgH+textPadding
		if bgY < 0 {
			bgX, bgY = ix1, iy1
			textX, textY = ix1+textPadding, iy1+textPadding
		}

		fillTranslucent(canvas, bgX, bgY, bgX+bgW, bgY+bgH, c, 128)

		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(color.White),
			Face: face,
			Dot:  fixed.P(textX, textY+face.Metrics().Ascent.Ceil()),
		}
		d.DrawString(b.Label)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encoding annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

func drawHollowRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	if x2 <= x1 || y2 <= y1 {
		return
	}
	for x := x1; x < x2; x++ {
		setClamped(img, x, y1, c)
		setClamped(img, x, y2-1, c)
	}
	for y := y1; y < y2; y++ {
		setClamped(img, x1, y, c)
		setClamped(img, x2-1, y, c)
	}
}

func fillTranslucent(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA, alpha uint8) {
	b := img.Bounds()
	x1, y1 = int(math.Max(float64(x1), float64(b.Min.X))), int(math.Max(float64(y1), float64(b.Min.Y)))
	x2, y2 = int(math.Min(float64(x2), float64(b.Max.X))), int(math.Min(float64(y2), float64(b.Max.Y)))
	blended := color.RGBA{c.R, c.G, c.B, alpha}
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			img.Set(x, y, blended)
		}
	}
}

func setClamped(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Bounds()) {
		img.Set(x, y, c)
	}
}

var _ ember.Tool = (*BboxDrawTool)(nil)
