// Package script implements execute_code, the sandboxed JavaScript tool: a
// throwaway goja.Runtime per call, wrapped to look asynchronous to the
// orchestrator even though the engine itself runs synchronously on a
// dedicated goroutine.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/store"
)

// maxBlobWrites caps the combined number of image+asset blobs one run may
// create; exceeding it surfaces a MaxTries error back into the script
// rather than letting a runaway loop exhaust the store.
const maxBlobWrites = 20

// execTimeout bounds how long one script may run before its context is
// cancelled; the runtime is then interrupted, which stops the script at
// its next instruction, and Call reports a timeout.
const execTimeout = 15 * time.Second

type Tool struct {
	blobs store.BlobStore
}

func New(blobs store.BlobStore) *Tool { return &Tool{blobs: blobs} }

func (t *Tool) Name() string { return "execute_code" }

func (t *Tool) Description() ember.ToolDescription {
	return ember.ToolDescription{
		NameForModel: "execute_code",
		NameForHuman: "sandboxed JavaScript",
		DescriptionForModel: "Run a short JavaScript snippet in an isolated sandbox. " +
			"console.log/error/warn/info/trace/table write to the terminal output; " +
			"the snippet's final expression (or an explicit return from an async IIFE) " +
			"becomes the Return: value. Available natives: setTimeout/setInterval, " +
			"TextEncoder/TextDecoder, btoa/atob, performance.now, " +
			"save_blob(kind,bytes), load_blob(kind,uuid), contain_blob(kind,uuid), " +
			"save_svg(text), convert_to_png(bytes), QRCode.encode/decode/save, " +
			"fs.*Sync and fs.promises.* against a 50 MiB in-memory file table, and " +
			"require('lodash'|'mustache'|'asciichart') for data/templating/chart " +
			"helpers. No network access; nothing persists past the call.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"code": {"type": "string", "description": "JavaScript source to run."}},
			"required": ["code"]
		}`),
		ArgsFormat: "Input must be a JSON object with a \"code\" string field.",
	}
}

type scriptArgs struct {
	Code string `json:"code"`
}

func (t *Tool) Call(ctx context.Context, args string) ([]ember.Content, error) {
	var a scriptArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return nil, fmt.Errorf("execute_code: invalid args: %w", err)
	}
	if strings.TrimSpace(a.Code) == "" {
		return nil, fmt.Errorf("execute_code: empty code")
	}

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	h := newHost(ctx, t.blobs)
	returnValue, err := h.run(a.Code)
	if err != nil {
		// A genuine host-side failure (e.g. the runtime panicked while
		// compiling native bindings) still propagates as a Go error;
		// anything the script itself threw is already folded into
		// returnValue as "Runtime Error: ...".
		return nil, fmt.Errorf("execute_code: %w", err)
	}

	text := h.terminal.String() + "\nReturn: " + returnValue

	content := make([]ember.Content, 0, 1+len(h.newImages)+len(h.newAssets))
	content = append(content, ember.NewText(text))
	for i, id := range h.newImages {
		content = append(content, ember.NewImageRef(id, fmt.Sprintf("JS Generated Image#%d", i+1)))
	}
	for i, id := range h.newAssets {
		content = append(content, ember.NewAssetRef(id, fmt.Sprintf("JS Generated Asset#%d", i+1)))
	}
	return content, nil
}

var _ ember.Tool = (*Tool)(nil)

// wrapProgram mirrors the host's execution contract: user code runs inside
// an async IIFE, success or failure alike is funnelled into
// globalThis.__internal_output, and nothing escapes as an uncaught
// exception or rejected promise.
func wrapProgram(userCode string) string {
	return `(function(){ globalThis.__internal_output = undefined; })();` +
		"(async () => { try { globalThis.__internal_output = await (async () => { \"use strict\";\n" +
		userCode +
		"\n})(); } catch(e) { globalThis.__internal_output = e; } })();"
}
