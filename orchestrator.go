package ember

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/emberhq/ember/asset"
	"github.com/emberhq/ember/prompt"
)

// SessionStore and BlobStore are the orchestrator's view of the store
// package's contracts, restated here (rather than imported) because the
// store package imports this one for ChatEntry/ChatMeta/SessionID: any
// concrete boltstore.DB.Sessions()/Blobs() or badgerstore equivalent
// satisfies these structurally without either package importing the other.
// Mirrors the prompt package's local Tool shape for the same reason.
type SessionStore interface {
	GetMeta(ctx context.Context, id SessionID) (ChatMeta, error)
	GetData(ctx context.Context, id SessionID) (ChatEntry, error)
	UpdateDataWith(ctx context.Context, id SessionID, fn func(ChatMeta, ChatEntry) (ChatMeta, ChatEntry, error)) error
}

type BlobStore interface {
	Get(ctx context.Context, id asset.ID) ([]byte, error)
	Release(ctx context.Context, id asset.ID) (bool, error)
}

// ChatEventKind discriminates the events a Run invocation yields.
type ChatEventKind int

const (
	ChatReasoningDelta ChatEventKind = iota
	ChatContentDelta
	ChatToolDelta
	ChatToolCall
	ChatToolResult
	ChatUsage
	ChatStreamEnd
	ChatError
)

// ChatEvent is one unit of orchestrator output, per spec.md §4.5's
// ChatEvent union.
type ChatEvent struct {
	Kind   ChatEventKind
	Text   string
	Call   *ToolUse
	Result *Message
	Usage  Usage
	Err    error
}

// TurnInput selects the three ways a turn may begin: post a new user
// message, regenerate the assistant reply after an existing message, or
// edit an existing user message and regenerate from there.
type TurnInput struct {
	userContent []Content
	regenAt     string
	editAt      string
	editContent []Content
	mode        turnMode
}

type turnMode int

const (
	turnUser turnMode = iota
	turnRegenerate
	turnEdit
)

// UserTurn appends content as a new user message and enters the loop.
func UserTurn(content []Content) TurnInput {
	return TurnInput{mode: turnUser, userContent: content}
}

// RegenerateTurn truncates history to (and possibly including) messageID
// and re-enters the loop without appending anything new.
func RegenerateTurn(messageID string) TurnInput {
	return TurnInput{mode: turnRegenerate, regenAt: messageID}
}

// EditTurn replaces messageID's content (which must own a User message),
// truncates everything after it, and re-enters the loop.
func EditTurn(messageID string, content []Content) TurnInput {
	return TurnInput{mode: turnEdit, editAt: messageID, editContent: content}
}

// Orchestrator drives the chat loop (spec.md §4.5): building model requests
// from session history, streaming and parsing the completion, dispatching
// parsed tool calls, and persisting the resulting messages.
type Orchestrator struct {
	Provider Provider
	Tools    *ToolRegistry
	Sessions SessionStore
	Blobs    BlobStore
	Tracer   Tracer
	Default  LLMConfig
	Logger   *slog.Logger
}

// NewOrchestrator wires the pieces a turn needs. A nil logger falls back to
// slog.Default(); a nil tracer disables span creation.
func NewOrchestrator(provider Provider, tools *ToolRegistry, sessions SessionStore, blobs BlobStore, tracer Tracer, def LLMConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{Provider: provider, Tools: tools, Sessions: sessions, Blobs: blobs, Tracer: tracer, Default: def, Logger: logger}
}

// Run starts one turn against sessionID and returns a channel of ChatEvents.
// The channel is closed after a terminal StreamEnd or Error event. The
// returned sequence is lazy and non-restartable: a caller that abandons the
// channel mid-stream should cancel ctx to stop the in-flight iteration.
func (o *Orchestrator) Run(ctx context.Context, sessionID SessionID, override LLMConfig, input TurnInput) (<-chan ChatEvent, error) {
	if err := o.applyInput(ctx, sessionID, input); err != nil {
		return nil, err
	}

	out := make(chan ChatEvent, 16)
	go o.loop(ctx, sessionID, o.Default.Merge(override), out)
	return out, nil
}

// applyInput performs the pre-loop mutation described by input: plain
// append, regenerate-truncate, or edit-truncate. Every blob reference held
// by a truncated message is released once, whether or not a kept message
// also refers to the same blob.
func (o *Orchestrator) applyInput(ctx context.Context, sessionID SessionID, input TurnInput) error {
	return o.Sessions.UpdateDataWith(ctx, sessionID, func(meta ChatMeta, entry ChatEntry) (ChatMeta, ChatEntry, error) {
		switch input.mode {
		case turnUser:
			msg := Message{ID: uuid.NewString(), Owner: UserRole, Content: input.userContent}
			entry.Messages = append(entry.Messages, msg)
			if meta.Summary == "" {
				meta.Summary = BuildSummary(input.userContent)
				entry.Summary = meta.Summary
			}

		case turnRegenerate:
			idx := findMessage(entry.Messages, input.regenAt)
			if idx < 0 {
				return meta, entry, fmt.Errorf("ember: regenerate target %q not found", input.regenAt)
			}
			keepThrough := idx - 1
			if entry.Messages[idx].Owner.Kind == RoleUser {
				keepThrough = idx
			}
			o.releaseTruncated(ctx, entry.Messages[keepThrough+1:])
			entry.Messages = entry.Messages[:keepThrough+1]

		case turnEdit:
			idx := findMessage(entry.Messages, input.editAt)
			if idx < 0 {
				return meta, entry, fmt.Errorf("ember: edit target %q not found", input.editAt)
			}
			if entry.Messages[idx].Owner.Kind != RoleUser {
				return meta, entry, fmt.Errorf("ember: edit target %q is not a user message", input.editAt)
			}
			o.releaseTruncated(ctx, entry.Messages[idx+1:])
			entry.Messages = entry.Messages[:idx+1]
			entry.Messages[idx].Content = input.editContent
		}
		return meta, entry, nil
	})
}

func findMessage(messages []Message, id string) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// releaseTruncated drops one reference for every blob-backed content part
// in the given (about-to-be-discarded) messages.
func (o *Orchestrator) releaseTruncated(ctx context.Context, messages []Message) {
	for _, m := range messages {
		for _, parts := range [][]Content{m.Content, m.Reasoning} {
			for _, c := range parts {
				if c.Kind == ContentImageRef || c.Kind == ContentAssetRef {
					if _, err := o.Blobs.Release(ctx, c.AssetID); err != nil {
						o.Logger.Warn("release blob on truncate failed", "asset", c.AssetID.String(), "err", err)
					}
				}
			}
		}
	}
}

// loop runs the per-turn iterations (spec.md §4.5's pseudo-contract) until
// no tool calls remain, emitting events to out and closing it on exit.
func (o *Orchestrator) loop(ctx context.Context, sessionID SessionID, cfg LLMConfig, out chan<- ChatEvent) {
	var closeOnce sync.Once
	done := func() { closeOnce.Do(func() { close(out) }) }
	defer done()

	emit := func(ev ChatEvent) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		entry, err := o.Sessions.GetData(ctx, sessionID)
		if err != nil {
			emit(ChatEvent{Kind: ChatError, Err: err})
			return
		}

		iterCtx := ctx
		var span Span
		if o.Tracer != nil {
			iterCtx, span = o.Tracer.Start(ctx, "orchestrator.iteration",
				IntAttr("messages", len(entry.Messages)))
		}

		lang := o.resolveLang(cfg, entry)
		systemPrompt, err := prompt.Render(lang, parallelEnabled(cfg), customPrefix(cfg), promptTools(o.Tools))
		if err != nil {
			if span != nil {
				span.Error(err)
				span.End()
			}
			emit(ChatEvent{Kind: ChatError, Err: err})
			return
		}

		req := ChatRequest{Messages: o.buildRequest(iterCtx, systemPrompt, entry), Config: cfg}

		assistant, usage, err := o.streamTurn(iterCtx, req, emit)
		if err != nil {
			if span != nil {
				span.Error(err)
				span.End()
			}
			emit(ChatEvent{Kind: ChatError, Err: err})
			return
		}
		if usage != (Usage{}) {
			emit(ChatEvent{Kind: ChatUsage, Usage: usage})
		}

		assistant.ID = uuid.NewString()
		if err := o.appendMessage(ctx, sessionID, assistant); err != nil {
			if span != nil {
				span.Error(err)
				span.End()
			}
			emit(ChatEvent{Kind: ChatError, Err: err})
			return
		}

		if span != nil {
			span.SetAttr(IntAttr("tool_count", len(assistant.ToolUse)))
			span.End()
		}

		if len(assistant.ToolUse) == 0 {
			emit(ChatEvent{Kind: ChatStreamEnd})
			return
		}

		results := o.Tools.DispatchParallel(ctx, assistant.ToolUse)
		for i := range results {
			results[i].ID = uuid.NewString()
			r := results[i]
			if !emit(ChatEvent{Kind: ChatToolResult, Call: &assistant.ToolUse[i], Result: &r}) {
				return
			}
		}
		if err := o.appendMessage(ctx, sessionID, results...); err != nil {
			emit(ChatEvent{Kind: ChatError, Err: err})
			return
		}
	}
}

// streamTurn runs one model call: streams raw chunks through the protocol
// parser (or straight through, for native reasoning), forwarding Delta and
// ToolCall events to emit, and accumulates the resulting assistant Message.
func (o *Orchestrator) streamTurn(ctx context.Context, req ChatRequest, emit func(ChatEvent) bool) (Message, Usage, error) {
	raw := make(chan StreamChunk, 16)
	errCh := make(chan error, 1)
	usageCh := make(chan Usage, 1)

	go func() {
		u, err := o.Provider.ChatStream(ctx, req, raw)
		usageCh <- u
		errCh <- err
	}()

	p := NewParser()
	assistant := Message{Owner: AssistantRole}
	var content, reasoning string

	applyEvents := func(events []Event) bool {
		for _, ev := range events {
			switch ev.Kind {
			case EventReasoningDelta:
				reasoning += ev.Text
				if !emit(ChatEvent{Kind: ChatReasoningDelta, Text: ev.Text}) {
					return false
				}
			case EventContentDelta:
				content += ev.Text
				if !emit(ChatEvent{Kind: ChatContentDelta, Text: ev.Text}) {
					return false
				}
			case EventToolDelta:
				if !emit(ChatEvent{Kind: ChatToolDelta, Text: ev.Text}) {
					return false
				}
			case EventToolCall:
				assistant.ToolUse = append(assistant.ToolUse, *ev.Call)
				if !emit(ChatEvent{Kind: ChatToolCall, Call: ev.Call}) {
					return false
				}
			}
		}
		return true
	}

loop:
	for {
		select {
		case chunk, ok := <-raw:
			if !ok {
				break loop
			}
			switch chunk.Kind {
			case StreamChunkReasoning:
				reasoning += chunk.Text
				if !emit(ChatEvent{Kind: ChatReasoningDelta, Text: chunk.Text}) {
					return Message{}, Usage{}, ctx.Err()
				}
			case StreamChunkContent:
				if !applyEvents(p.Feed(chunk.Text)) {
					return Message{}, Usage{}, ctx.Err()
				}
			}
		case <-ctx.Done():
			return Message{}, Usage{}, ctx.Err()
		}
	}
	applyEvents(p.Close())

	if err := <-errCh; err != nil {
		return Message{}, Usage{}, err
	}

	if len(assistant.ToolUse) == 0 {
		assistant.Content = []Content{NewText(content)}
	}
	if reasoning != "" {
		assistant.Reasoning = []Content{NewText(reasoning)}
	}
	return assistant, <-usageCh, nil
}

// appendMessage appends one or more messages to sessionID under the
// store's compare-and-swap discipline.
func (o *Orchestrator) appendMessage(ctx context.Context, sessionID SessionID, messages ...Message) error {
	return o.Sessions.UpdateDataWith(ctx, sessionID, func(meta ChatMeta, entry ChatEntry) (ChatMeta, ChatEntry, error) {
		entry.Messages = append(entry.Messages, messages...)
		return meta, entry, nil
	})
}

func (o *Orchestrator) resolveLang(cfg LLMConfig, entry ChatEntry) string {
	if cfg.SystemPromptLang != nil && *cfg.SystemPromptLang != "" {
		return *cfg.SystemPromptLang
	}
	for i := len(entry.Messages) - 1; i >= 0; i-- {
		m := entry.Messages[i]
		if m.Owner.Kind != RoleUser {
			continue
		}
		for _, c := range m.Content {
			if c.Kind == ContentText && c.Text != "" {
				return prompt.Detect(c.Text)
			}
		}
	}
	return "english"
}

func parallelEnabled(cfg LLMConfig) bool {
	return cfg.ParallelFunctionCall == nil || *cfg.ParallelFunctionCall
}

func customPrefix(cfg LLMConfig) string {
	if cfg.CustomSystemPrefix != nil {
		return *cfg.CustomSystemPrefix
	}
	return ""
}

func promptTools(r *ToolRegistry) []prompt.Tool {
	descs := r.ModelVisible()
	out := make([]prompt.Tool, len(descs))
	for i, d := range descs {
		out[i] = prompt.Tool{NameForHuman: d.NameForHuman, DescriptionForModel: d.DescriptionForModel}
	}
	return out
}

// buildRequest maps system prompt + history into the wire message list per
// spec.md §4.5's Message→model-request mapping.
func (o *Orchestrator) buildRequest(ctx context.Context, systemPrompt string, entry ChatEntry) []ModelMessage {
	out := make([]ModelMessage, 0, len(entry.Messages)+1)
	out = append(out, ModelMessage{Role: "system", Parts: []ModelContentPart{{Text: systemPrompt}}})
	for _, m := range entry.Messages {
		switch m.Owner.Kind {
		case RoleSystem:
			out = append(out, ModelMessage{Role: "system", Parts: o.renderParts(ctx, m.Content)})
		case RoleUser:
			out = append(out, ModelMessage{Role: "user", Parts: o.renderParts(ctx, m.Content)})
		case RoleAssistant:
			out = append(out, o.mapAssistant(m))
		case RoleTools:
			out = append(out, o.mapTools(ctx, m))
		}
	}
	return out
}

func (o *Orchestrator) mapAssistant(m Message) ModelMessage {
	var parts []ModelContentPart
	for _, c := range m.Content {
		if c.Kind == ContentText {
			parts = append(parts, ModelContentPart{Text: c.Text})
		}
	}
	for _, tu := range m.ToolUse {
		parts = append(parts, ModelContentPart{
			Text: fmt.Sprintf("\n%s: %s\n%s: %s\n", fnName, tu.FunctionName, fnArgs, tu.Args),
		})
	}
	return ModelMessage{Role: "assistant", Parts: parts}
}

func (o *Orchestrator) mapTools(ctx context.Context, m Message) ModelMessage {
	parts := []ModelContentPart{{Text: fnResult + ": "}}
	parts = append(parts, o.renderParts(ctx, m.Content)...)
	parts = append(parts, ModelContentPart{Text: fmt.Sprintf("\n%s\n", fnExit)})
	return ModelMessage{Role: "tool", Parts: parts, ToolUse: m.Owner.ToolUse.String()}
}

// renderParts converts Content parts to wire parts: text passes through
// unchanged; image and asset refs get a text descriptor, and images
// additionally try to resolve a base64 data-url part (missing blobs are
// logged and skipped, per spec.md §4.5).
func (o *Orchestrator) renderParts(ctx context.Context, content []Content) []ModelContentPart {
	var parts []ModelContentPart
	for _, c := range content {
		switch c.Kind {
		case ContentText:
			parts = append(parts, ModelContentPart{Text: c.Text})

		case ContentImageRef:
			parts = append(parts, ModelContentPart{Text: descriptor(c)})
			data, err := o.Blobs.Get(ctx, c.AssetID)
			if err != nil {
				o.Logger.Warn("image blob unavailable, skipping", "asset", c.AssetID.String(), "err", err)
				continue
			}
			parts = append(parts, ModelContentPart{ImageURL: dataURL(data)})

		case ContentImageBin:
			parts = append(parts, ModelContentPart{Text: descriptor(c)})
			parts = append(parts, ModelContentPart{ImageURL: dataURL(c.Bin)})

		case ContentAssetRef:
			parts = append(parts, ModelContentPart{Text: descriptor(c)})
		}
	}
	return parts
}

// descriptor renders the text the model sees in place of a binary blob: a
// Markdown-ish reference carrying the content's label and asset id, per the
// Image/Asset convention documented in the system prompt templates.
func descriptor(c Content) string {
	switch c.Kind {
	case ContentImageRef, ContentImageBin:
		return fmt.Sprintf("![%s](/api/image/%s)", c.Label, c.AssetID.String())
	case ContentAssetRef:
		return fmt.Sprintf("[%s](/api/asset/%s)", c.Label, c.AssetID.String())
	default:
		return ""
	}
}

func dataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}
