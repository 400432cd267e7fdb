// Package imagebox implements the image-manipulation tool pair
// (image_zoom_in_tool, image_draw_bbox_2d_tool) that let the model crop,
// magnify, and annotate blobs it has already seen in the conversation.
package imagebox

import (
	"image/color"
	"math"
)

// BBox is a bounding box in the model's normalized 0-1000 coordinate space,
// independent of the source image's aspect ratio.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// toPixels scales a BBox into absolute pixel coordinates of an image sized
// width x height.
func (b BBox) toPixels(width, height int) (x1, y1, x2, y2 float64) {
	return b.X1 / 1000 * float64(width),
		b.Y1 / 1000 * float64(height),
		b.X2 / 1000 * float64(width),
		b.Y2 / 1000 * float64(height)
}

// smartResize rounds width/height to multiples of factor while keeping the
// total pixel count within [minPixels, maxPixels]: scaled down by
// sqrt(area/max) above the ceiling, scaled up by sqrt(min/area) below the
// floor.
func smartResize(height, width int, factor, minPixels, maxPixels float64) (newH, newW int) {
	hF, wF := float64(height), float64(width)

	hBar := math.Max(factor, roundByFactor(hF, factor))
	wBar := math.Max(factor, roundByFactor(wF, factor))

	current := hBar * wBar
	switch {
	case current > maxPixels:
		beta := math.Sqrt(hF * wF / maxPixels)
		hBar = floorByFactor(hF/beta, factor)
		wBar = floorByFactor(wF/beta, factor)
	case current < minPixels:
		beta := math.Sqrt(minPixels / (hF * wF))
		hBar = ceilByFactor(hF*beta, factor)
		wBar = ceilByFactor(wF*beta, factor)
	}
	return int(hBar), int(wBar)
}

func roundByFactor(n, factor float64) float64 { return math.Round(n/factor) * factor }
func ceilByFactor(n, factor float64) float64  { return math.Ceil(n/factor) * factor }
func floorByFactor(n, factor float64) float64 { return math.Floor(n/factor) * factor }

// defaultMinPixels/defaultMaxPixels are the smart-resize bounds used by
// both tools when the caller does not override them (256*32*32 and the
// Qwen-VL-derived default ceiling).
const (
	defaultMinPixels = 262144
	defaultMaxPixels = 12845056
	resizeFactor     = 32
)

// colorPalette cycles a fixed set of distinguishable colors across bbox
// labels, so repeated labels share a color across one call.
var colorPalette = []color.RGBA{
	{255, 0, 0, 255}, {0, 200, 0, 255}, {0, 0, 255, 255}, {230, 200, 0, 255},
	{0, 200, 200, 255}, {220, 0, 220, 255}, {255, 128, 0, 255}, {128, 0, 255, 255},
	{0, 128, 0, 255}, {0, 128, 128, 255}, {128, 128, 0, 255}, {255, 0, 128, 255},
	{255, 165, 0, 255}, {128, 0, 0, 255}, {0, 0, 128, 255}, {170, 110, 40, 255},
}
