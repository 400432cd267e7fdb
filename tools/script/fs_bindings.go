package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// installFS registers the fs.*Sync surface plus an fs.promises mirror that
// resolves synchronously (the sandbox has no real I/O latency to await) but
// still returns native Promises so `await fs.promises.readFile(...)` reads
// the way it would against a real filesystem.
func (h *host) installFS() {
	rt := h.rt
	h.fs = newMemFS()

	fsObj := rt.NewObject()
	fsObj.Set("existsSync", func(p string) bool { return h.fs.exists(p) })
	fsObj.Set("mkdirSync", func(call goja.FunctionCall) goja.Value {
		h.fs.mkdir(call.Argument(0).String())
		return goja.Undefined()
	})
	fsObj.Set("readdirSync", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(h.fs.readdir(call.Argument(0).String()))
	})
	fsObj.Set("statSync", func(call goja.FunctionCall) goja.Value {
		v, err := h.fsStat(call)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return v
	})
	fsObj.Set("readFileSync", func(call goja.FunctionCall) goja.Value {
		v, err := h.fsReadFile(call)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return v
	})
	fsObj.Set("writeFileSync", func(call goja.FunctionCall) goja.Value {
		if err := h.fsWriteFile(call); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})
	fsObj.Set("unlinkSync", func(call goja.FunctionCall) goja.Value {
		if err := h.fs.unlink(call.Argument(0).String()); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	promises := rt.NewObject()
	promises.Set("readFile", h.promisify(h.fsReadFile))
	promises.Set("writeFile", h.promisify(func(call goja.FunctionCall) (goja.Value, error) {
		if err := h.fsWriteFile(call); err != nil {
			return nil, err
		}
		return goja.Undefined(), nil
	}))
	promises.Set("unlink", h.promisify(func(call goja.FunctionCall) (goja.Value, error) {
		if err := h.fs.unlink(call.Argument(0).String()); err != nil {
			return nil, err
		}
		return goja.Undefined(), nil
	}))
	promises.Set("mkdir", h.promisify(func(call goja.FunctionCall) (goja.Value, error) {
		h.fs.mkdir(call.Argument(0).String())
		return goja.Undefined(), nil
	}))
	promises.Set("readdir", h.promisify(func(call goja.FunctionCall) (goja.Value, error) {
		return rt.ToValue(h.fs.readdir(call.Argument(0).String())), nil
	}))
	promises.Set("stat", h.promisify(h.fsStat))
	fsObj.Set("promises", promises)

	rt.Set("fs", fsObj)
}

func (h *host) fsReadFile(call goja.FunctionCall) (goja.Value, error) {
	p := call.Argument(0).String()
	data, err := h.fs.readFile(p)
	if err != nil {
		return nil, err
	}
	if wantsUTF8(call.Argument(1)) {
		return h.rt.ToValue(string(data)), nil
	}
	return h.rt.ToValue(h.rt.NewArrayBuffer(data)), nil
}

func (h *host) fsWriteFile(call goja.FunctionCall) error {
	p := call.Argument(0).String()
	data, err := toBytes(call.Argument(1))
	if err != nil {
		data = []byte(call.Argument(1).String())
	}
	return h.fs.writeFile(p, data)
}

func (h *host) fsStat(call goja.FunctionCall) (goja.Value, error) {
	p := call.Argument(0).String()
	isDir := h.fs.isDir(p)
	size, ok := h.fs.size(p)
	if !isDir && !ok {
		return nil, fmt.Errorf("ENOENT: no such file or directory, stat '%s'", p)
	}
	stat := h.rt.NewObject()
	stat.Set("size", size)
	stat.Set("isDirectory", func() bool { return isDir })
	stat.Set("isFile", func() bool { return !isDir })
	return stat, nil
}

// wantsUTF8 inspects the optional second argument fs.readFile(Sync) accepts:
// either the bare string "utf8"/"utf-8" or an options object with that
// encoding field.
func wantsUTF8(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	if s, ok := v.Export().(string); ok {
		return s == "utf8" || s == "utf-8"
	}
	if obj, ok := v.(*goja.Object); ok {
		enc := obj.Get("encoding")
		if enc != nil && !goja.IsUndefined(enc) {
			s := enc.String()
			return s == "utf8" || s == "utf-8"
		}
	}
	return false
}

// promisify adapts a synchronous native op into one returning a Promise
// that's already settled by the time the call returns, so script code can
// use fs.promises.* uniformly with real `await` syntax.
func (h *host) promisify(fn func(goja.FunctionCall) (goja.Value, error)) func(goja.FunctionCall) *goja.Promise {
	return func(call goja.FunctionCall) *goja.Promise {
		p, resolve, reject := h.rt.NewPromise()
		v, err := fn(call)
		if err != nil {
			reject(h.rt.NewGoError(err))
		} else {
			resolve(v)
		}
		return p
	}
}
