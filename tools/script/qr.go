package script

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	"github.com/dop251/goja"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// installQR registers the QRCode.{encode,decode,save} native-op surface:
// encode/decode are pure compute, save persists an encoded code as a new
// image blob and counts against the run's blob-write quota.
func (h *host) installQR() {
	rt := h.rt
	qr := rt.NewObject()

	qr.Set("encode", func(call goja.FunctionCall) goja.Value {
		text := call.Argument(0).String()
		size := 256
		if len(call.Arguments) > 1 {
			size = int(call.Argument(1).ToInteger())
		}
		png, err := encodeQR(text, size)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("QRCode.encode: %w", err)))
		}
		return rt.ToValue(rt.NewArrayBuffer(png))
	})

	qr.Set("decode", func(call goja.FunctionCall) goja.Value {
		data, err := toBytes(call.Argument(0))
		if err != nil {
			panic(rt.NewTypeError(err.Error()))
		}
		text, err := decodeQR(data)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("QRCode.decode: %w", err)))
		}
		return rt.ToValue(text)
	})

	qr.Set("save", func(call goja.FunctionCall) goja.Value {
		text := call.Argument(0).String()
		size := 256
		if len(call.Arguments) > 1 {
			size = int(call.Argument(1).ToInteger())
		}
		png, err := encodeQR(text, size)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("QRCode.save: %w", err)))
		}
		id, jsErr := h.saveBlob("image", png)
		if jsErr != "" {
			panic(rt.NewGoError(fmt.Errorf("%s", jsErr)))
		}
		return rt.ToValue(id.String())
	})

	rt.Set("QRCode", qr)
}

func encodeQR(text string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	writer := qrcode.NewQRCodeWriter()
	matrix, err := writer.Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}

	img := image.NewGray(image.Rect(0, 0, matrix.GetWidth(), matrix.GetHeight()))
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding qr png: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeQR(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}
	bitmap, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("preparing bitmap: %w", err)
	}
	reader := qrcode.NewQRCodeReader()
	result, err := reader.Decode(bitmap, nil)
	if err != nil {
		return "", fmt.Errorf("decoding qr code: %w", err)
	}
	return result.GetText(), nil
}
