package script

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/emberhq/ember/asset"
	"github.com/emberhq/ember/internal/imgconv"
	"github.com/emberhq/ember/store"
)

// host owns one throwaway goja.Runtime plus the side channels a run needs: a
// combined stdout/stderr terminal sink and separate new-image/new-asset id
// channels populated by the blob-writing natives.
type host struct {
	ctx   context.Context
	blobs store.BlobStore
	rt    *goja.Runtime

	terminal strings.Builder

	fs *memFS

	newImages []asset.ID
	newAssets []asset.ID

	blobWrites int

	timerQueue []func()
	started    time.Time
}

// errMaxTries is what a quota-exceeding native op reports back to the
// script; it is thrown as a JS Error, not returned as a Go error, so the
// script can catch and react to it.
const errMaxTries = "MaxTries: blob write quota exceeded for this run"

func newHost(ctx context.Context, blobs store.BlobStore) *host {
	h := &host{ctx: ctx, blobs: blobs, rt: goja.New(), started: time.Now()}
	h.install()
	return h
}

func (h *host) install() {
	rt := h.rt

	console := rt.NewObject()
	for _, level := range []string{"log", "error", "warn", "info", "trace", "table"} {
		level := level
		console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			fmt.Fprintf(&h.terminal, "[%s] %s\n", level, strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	rt.Set("console", console)

	rt.Set("setTimeout", h.scheduleOnce)
	rt.Set("setInterval", h.scheduleOnce)
	rt.Set("clearTimeout", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	rt.Set("clearInterval", func(goja.FunctionCall) goja.Value { return goja.Undefined() })

	rt.Set("btoa", func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	})
	rt.Set("atob", func(s string) (string, error) {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("atob: invalid base64: %w", err)
		}
		return string(b), nil
	})

	performance := rt.NewObject()
	performance.Set("now", func() float64 {
		return float64(time.Since(h.started)) / float64(time.Millisecond)
	})
	rt.Set("performance", performance)

	rt.Set("TextEncoder", func(call goja.ConstructorCall) *goja.Object {
		call.This.Set("encode", func(c goja.FunctionCall) goja.Value {
			s := c.Argument(0).String()
			return rt.ToValue(rt.NewArrayBuffer([]byte(s)))
		})
		return nil
	})
	rt.Set("TextDecoder", func(call goja.ConstructorCall) *goja.Object {
		call.This.Set("decode", func(c goja.FunctionCall) goja.Value {
			b, err := toBytes(c.Argument(0))
			if err != nil {
				panic(rt.NewTypeError(err.Error()))
			}
			return rt.ToValue(string(b))
		})
		return nil
	})

	h.installBlobOps()
	h.installQR()
	h.installFS()
	h.installRequire()
}

// scheduleOnce backs both setTimeout and setInterval: both are coerced to a
// single-shot microtask, run once the top-level script has finished, in the
// order they were scheduled. The delay argument is accepted but ignored —
// there is no real clock driving this sandbox.
func (h *host) scheduleOnce(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(h.rt.NewTypeError("setTimeout/setInterval: first argument must be a function"))
	}
	var extra []goja.Value
	if len(call.Arguments) > 2 {
		extra = call.Arguments[2:]
	}
	id := len(h.timerQueue)
	h.timerQueue = append(h.timerQueue, func() {
		if _, err := fn(goja.Undefined(), extra...); err != nil {
			fmt.Fprintf(&h.terminal, "[timer error] %s\n", err)
		}
	})
	return h.rt.ToValue(id)
}

// run compiles and executes code under the standard wrapper, drains the
// timer queue, and returns the stringified __internal_output.
func (h *host) run(code string) (string, error) {
	prog, err := goja.Compile("<execute_code>", wrapProgram(code), false)
	if err != nil {
		return "", fmt.Errorf("compiling script: %w", err)
	}

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic in sandbox: %v", r)
			}
		}()
		if _, err := h.rt.RunProgram(prog); err != nil {
			runErr = err
			return
		}
		for i := 0; i < len(h.timerQueue); i++ {
			h.timerQueue[i]()
		}
	}()

	select {
	case <-done:
	case <-h.ctx.Done():
		h.rt.Interrupt("script execution timed out")
		return "", fmt.Errorf("script execution timed out")
	}
	if runErr != nil {
		return "", runErr
	}

	out := h.rt.Get("__internal_output")
	return stringifyOutput(h.rt, out), nil
}

func stringifyOutput(rt *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if err, ok := v.Export().(error); ok {
		return "Runtime Error: " + err.Error()
	}
	if obj, ok := v.(*goja.Object); ok {
		if obj.ClassName() == "Error" {
			return "Runtime Error: " + obj.String()
		}
		jsonStr, err := rt.RunProgram(mustCompileStringify())
		if err == nil {
			if fn, ok := goja.AssertFunction(jsonStr); ok {
				if res, err := fn(goja.Undefined(), v); err == nil && !goja.IsUndefined(res) {
					return res.String()
				}
			}
		}
	}
	return v.String()
}

func mustCompileStringify() *goja.Program {
	prog, err := goja.Compile("<stringify>", "(function(v){ try { return JSON.stringify(v); } catch(e) { return undefined; } })", false)
	if err != nil {
		panic(err)
	}
	return prog
}

// toBytes extracts a Go []byte from a JS value regardless of whether it was
// passed as an ArrayBuffer, a Uint8Array, or a plain string.
func toBytes(v goja.Value) ([]byte, error) {
	switch exported := v.Export().(type) {
	case []byte:
		return exported, nil
	case goja.ArrayBuffer:
		return exported.Bytes(), nil
	case string:
		return []byte(exported), nil
	default:
		return nil, fmt.Errorf("expected bytes, got %T", exported)
	}
}

func (h *host) installBlobOps() {
	rt := h.rt

	rt.Set("save_blob", func(call goja.FunctionCall) goja.Value {
		kind := call.Argument(0).String()
		data, err := toBytes(call.Argument(1))
		if err != nil {
			panic(rt.NewTypeError(err.Error()))
		}
		id, jsErr := h.saveBlob(kind, data)
		if jsErr != "" {
			panic(rt.NewGoError(fmt.Errorf("%s", jsErr)))
		}
		return rt.ToValue(id.String())
	})

	rt.Set("load_blob", func(call goja.FunctionCall) goja.Value {
		_ = call.Argument(0).String() // kind is informational only for reads
		uuidStr := call.Argument(1).String()
		id, err := asset.Parse(uuidStr)
		if err != nil {
			panic(rt.NewTypeError("load_blob: invalid uuid: " + err.Error()))
		}
		data, err := h.blobs.Get(h.ctx, id)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("load_blob: %w", err)))
		}
		return rt.ToValue(rt.NewArrayBuffer(data))
	})

	rt.Set("contain_blob", func(call goja.FunctionCall) goja.Value {
		_ = call.Argument(0).String()
		uuidStr := call.Argument(1).String()
		id, err := asset.Parse(uuidStr)
		if err != nil {
			return rt.ToValue(false)
		}
		_, _, err = h.blobs.Peek(h.ctx, id, 0)
		return rt.ToValue(err == nil)
	})

	rt.Set("save_svg", func(call goja.FunctionCall) goja.Value {
		svgText := call.Argument(0).String()
		png, err := imgconv.RasterizeSVG(svgText)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("save_svg: %w", err)))
		}
		id, jsErr := h.saveBlob("image", png)
		if jsErr != "" {
			panic(rt.NewGoError(fmt.Errorf("%s", jsErr)))
		}
		return rt.ToValue(id.String())
	})

	rt.Set("convert_to_png", func(call goja.FunctionCall) goja.Value {
		data, err := toBytes(call.Argument(0))
		if err != nil {
			panic(rt.NewTypeError(err.Error()))
		}
		png, err := imgconv.ToPNG(data)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("convert_to_png: %w", err)))
		}
		return rt.ToValue(rt.NewArrayBuffer(png))
	})
}

// saveBlob writes data, enforces the combined write quota, and records the
// new id on the appropriate side channel by kind.
func (h *host) saveBlob(kind string, data []byte) (asset.ID, string) {
	if h.blobWrites >= maxBlobWrites {
		return asset.ID{}, errMaxTries
	}
	id, err := h.blobs.Save(h.ctx, data)
	if err != nil {
		return asset.ID{}, fmt.Sprintf("save_blob: %s", err)
	}
	h.blobWrites++
	switch kind {
	case "asset":
		h.newAssets = append(h.newAssets, id)
	default:
		h.newImages = append(h.newImages, id)
	}
	return id, ""
}
