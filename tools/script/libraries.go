package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// preloadedLibraries are the fixed set of pure-JS modules require(name)
// resolves to: one for data processing, one for visualisation, one for
// templating. Each is a small, self-contained reimplementation of the
// well-known library it's named after — there is no module resolution or
// node_modules in this sandbox to load the real package from, so the
// common subset of its API is embedded directly.
var preloadedLibraries = map[string]string{
	"lodash":     lodashSource,
	"mustache":   mustacheSource,
	"asciichart": asciichartSource,
}

// installRequire wires require(name) to the preloaded module table: each
// module is compiled and run once, CommonJS-style (module.exports), on
// first use and cached for the remainder of the run. Unknown names still
// throw, matching a real require() given no matching module on disk.
func (h *host) installRequire() {
	rt := h.rt
	cache := map[string]goja.Value{}

	rt.Set("require", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if v, ok := cache[name]; ok {
			return v
		}
		src, ok := preloadedLibraries[name]
		if !ok {
			panic(rt.NewTypeError(fmt.Sprintf("require: module %q is not available in this sandbox", name)))
		}

		module := rt.NewObject()
		exports := rt.NewObject()
		module.Set("exports", exports)

		prog, err := goja.Compile("<module:"+name+">", "(function(module, exports){\n"+src+"\n})", false)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("require: compiling %q: %w", name, err)))
		}
		wrapper, err := rt.RunProgram(prog)
		if err != nil {
			panic(rt.NewGoError(fmt.Errorf("require: loading %q: %w", name, err)))
		}
		fn, ok := goja.AssertFunction(wrapper)
		if !ok {
			panic(rt.NewTypeError("require: internal module wrapper is not callable"))
		}
		if _, err := fn(goja.Undefined(), module, exports); err != nil {
			panic(rt.NewGoError(fmt.Errorf("require: executing %q: %w", name, err)))
		}

		result := module.Get("exports")
		cache[name] = result
		return result
	})
}

// lodashSource is a minimal subset of lodash's collection/array helpers.
const lodashSource = `
function chunk(arr, size) {
	size = size > 0 ? size : 1;
	var out = [];
	for (var i = 0; i < arr.length; i += size) out.push(arr.slice(i, i + size));
	return out;
}
function uniq(arr) {
	var seen = [], out = [];
	for (var i = 0; i < arr.length; i++) {
		if (seen.indexOf(arr[i]) === -1) { seen.push(arr[i]); out.push(arr[i]); }
	}
	return out;
}
function flatten(arr) {
	var out = [];
	for (var i = 0; i < arr.length; i++) {
		if (Array.isArray(arr[i])) out = out.concat(arr[i]); else out.push(arr[i]);
	}
	return out;
}
function iteratee(it) {
	return typeof it === "function" ? it : function(x) { return x[it]; };
}
function groupBy(arr, it) {
	var fn = iteratee(it), out = {};
	for (var i = 0; i < arr.length; i++) {
		var key = fn(arr[i]);
		(out[key] || (out[key] = [])).push(arr[i]);
	}
	return out;
}
function keyBy(arr, it) {
	var fn = iteratee(it), out = {};
	for (var i = 0; i < arr.length; i++) out[fn(arr[i])] = arr[i];
	return out;
}
function sortBy(arr, it) {
	var fn = iteratee(it);
	return arr.slice().sort(function(a, b) {
		var av = fn(a), bv = fn(b);
		return av < bv ? -1 : av > bv ? 1 : 0;
	});
}
function pick(obj, keys) {
	var out = {};
	for (var i = 0; i < keys.length; i++) if (keys[i] in obj) out[keys[i]] = obj[keys[i]];
	return out;
}
function omit(obj, keys) {
	var out = {};
	for (var k in obj) if (keys.indexOf(k) === -1) out[k] = obj[k];
	return out;
}
function clamp(n, lo, hi) { return Math.min(Math.max(n, lo), hi); }
function range(start, end, step) {
	if (end === undefined) { end = start; start = 0; }
	step = step || 1;
	var out = [];
	for (var i = start; step > 0 ? i < end : i > end; i += step) out.push(i);
	return out;
}
module.exports = {
	chunk: chunk, uniq: uniq, flatten: flatten, groupBy: groupBy, keyBy: keyBy,
	sortBy: sortBy, pick: pick, omit: omit, clamp: clamp, range: range
};
`

// mustacheSource implements the logic-less {{tag}}/{{#section}}/{{^section}}
// subset of Mustache templating.
const mustacheSource = `
function lookup(name, scopeStack) {
	for (var i = scopeStack.length - 1; i >= 0; i--) {
		var scope = scopeStack[i];
		if (scope != null && Object.prototype.hasOwnProperty.call(scope, name)) return scope[name];
	}
	return undefined;
}
function escape(s) {
	return String(s).replace(/&/g, "&amp;").replace(/</g, "&lt;").replace(/>/g, "&gt;").replace(/"/g, "&quot;");
}
function renderTokens(tpl, scopeStack) {
	var out = "", i = 0;
	while (i < tpl.length) {
		var open = tpl.indexOf("{{", i);
		if (open < 0) { out += tpl.slice(i); break; }
		out += tpl.slice(i, open);
		var close = tpl.indexOf("}}", open);
		if (close < 0) { out += tpl.slice(open); break; }
		var tag = tpl.slice(open + 2, close).trim();
		if (tag[0] === "#" || tag[0] === "^") {
			var sectionName = tag.slice(1).trim();
			var endTag = "{{/" + sectionName + "}}";
			var endIdx = tpl.indexOf(endTag, close);
			if (endIdx < 0) { i = close + 2; continue; }
			var inner = tpl.slice(close + 2, endIdx);
			var val = lookup(sectionName, scopeStack);
			var truthy = Array.isArray(val) ? val.length > 0 : !!val;
			if (tag[0] === "^") {
				out += truthy ? "" : renderTokens(inner, scopeStack);
			} else if (truthy) {
				if (Array.isArray(val)) {
					for (var vi = 0; vi < val.length; vi++) out += renderTokens(inner, scopeStack.concat([val[vi]]));
				} else {
					out += renderTokens(inner, scopeStack.concat([val === true ? scopeStack[scopeStack.length - 1] : val]));
				}
			}
			i = endIdx + endTag.length;
			continue;
		}
		if (tag[0] === "!") { i = close + 2; continue; }
		var raw = false, key = tag;
		if (tag[0] === "&") { raw = true; key = tag.slice(1).trim(); }
		var v = lookup(key, scopeStack);
		if (v !== undefined && v !== null) out += raw ? String(v) : escape(v);
		i = close + 2;
	}
	return out;
}
function render(template, view) {
	return renderTokens(template, [view || {}]);
}
module.exports = { render: render };
`

// asciichartSource renders a numeric series as a terminal-friendly line
// chart, the sandbox's stand-in for a visualisation library (the script
// natives have no canvas/DOM to draw a real chart into).
const asciichartSource = `
function plot(series, options) {
	options = options || {};
	var height = options.height > 0 ? options.height : 10;
	var min = Math.min.apply(null, series);
	var max = Math.max.apply(null, series);
	if (max === min) max = min + 1;
	var rows = [];
	for (var r = 0; r <= height; r++) rows.push(new Array(series.length).fill(" "));
	for (var x = 0; x < series.length; x++) {
		var norm = (series[x] - min) / (max - min);
		var y = height - Math.round(norm * height);
		if (y < 0) y = 0;
		if (y > height) y = height;
		rows[y][x] = "*";
	}
	var lines = [];
	for (var r2 = 0; r2 <= height; r2++) {
		var value = max - (r2 / height) * (max - min);
		var label = value.toFixed(2);
		while (label.length < 8) label = " " + label;
		lines.push(label + " | " + rows[r2].join(""));
	}
	return lines.join("\n");
}
module.exports = { plot: plot };
`
