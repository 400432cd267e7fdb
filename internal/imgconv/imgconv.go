// Package imgconv holds the pure, store-independent image normalisation
// helpers shared by the curl_url and sandboxed-script tools: PNG
// normalisation and SVG rasterisation.
package imgconv

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// ToPNG normalises arbitrary image bytes to PNG. JPEG and PNG are passed
// through unchanged (re-encoding a JPEG would needlessly degrade it);
// anything else is decoded and re-encoded.
func ToPNG(data []byte) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unrecognised image format: %w", err)
	}
	if format == "png" || format == "jpeg" {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s image: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// RasterizeSVG renders an SVG document to a transparent PNG canvas sized to
// the document's own viewbox.
func RasterizeSVG(svgText string) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(strings.NewReader(svgText))
	if err != nil {
		return nil, fmt.Errorf("parsing svg: %w", err)
	}

	w := int(icon.ViewBox.W)
	h := int(icon.ViewBox.H)
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	icon.SetTarget(0, 0, float64(w), float64(h))

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	icon.Draw(raster, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding rasterised svg: %w", err)
	}
	return buf.Bytes(), nil
}
