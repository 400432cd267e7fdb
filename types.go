package ember

import (
	"encoding/json"

	"github.com/emberhq/ember/asset"
)

// ContentKind discriminates the tagged-union variants of Content.
type ContentKind int

const (
	ContentText ContentKind = iota
	ContentImageRef
	ContentImageBin
	ContentAssetRef
)

// Content is a tagged variant of a message part: plain text, a reference to
// an image blob, a transient in-memory image payload (never persisted — it
// only appears while a tool result is being assembled, before the bytes are
// committed to the blob store and rewritten as an ImageRef), or a reference
// to an opaque binary asset blob.
type Content struct {
	Kind ContentKind `json:"kind"`

	Text string `json:"text,omitempty"`

	AssetID asset.ID `json:"asset_id,omitempty"`
	Label   string   `json:"label,omitempty"`

	// Bin holds the raw bytes for an ImageBin content part. It is never
	// serialised to the session store: ImageBin is rewritten to ImageRef
	// before a message is appended.
	Bin []byte `json:"-"`
}

// NewText constructs a ContentText part.
func NewText(s string) Content { return Content{Kind: ContentText, Text: s} }

// NewImageRef constructs a ContentImageRef part.
func NewImageRef(id asset.ID, label string) Content {
	return Content{Kind: ContentImageRef, AssetID: id, Label: label}
}

// NewImageBin constructs a transient ContentImageBin part.
func NewImageBin(bin []byte, id asset.ID, label string) Content {
	return Content{Kind: ContentImageBin, Bin: bin, AssetID: id, Label: label}
}

// NewAssetRef constructs a ContentAssetRef part.
func NewAssetRef(id asset.ID, label string) Content {
	return Content{Kind: ContentAssetRef, AssetID: id, Label: label}
}

// Role identifies the author of a Message. Tools carries the ToolUseID of
// the call whose result this message conveys.
type Role struct {
	Kind    RoleKind  `json:"kind"`
	ToolUse ToolUseID `json:"tool_use,omitempty"`
}

type RoleKind int

const (
	RoleSystem RoleKind = iota
	RoleUser
	RoleAssistant
	RoleTools
)

func (r RoleKind) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleTools:
		return "tools"
	default:
		return "unknown"
	}
}

// SystemRole, UserRole, AssistantRole are the three roles with no associated
// tool-use identity. ToolsRole constructs the fourth.
var (
	SystemRole    = Role{Kind: RoleSystem}
	UserRole      = Role{Kind: RoleUser}
	AssistantRole = Role{Kind: RoleAssistant}
)

func ToolsRole(id ToolUseID) Role { return Role{Kind: RoleTools, ToolUse: id} }

// ToolUse records one parsed tool invocation awaiting (or having received)
// a result.
type ToolUse struct {
	UseID        ToolUseID `json:"use_id"`
	FunctionName string    `json:"function_name"`
	Args         string    `json:"args"`
}

// Message is one turn in a chat's history. Immutable once appended, except
// through the orchestrator's edit-and-truncate operation.
type Message struct {
	ID        string    `json:"id"`
	Owner     Role      `json:"owner"`
	Content   []Content `json:"content"`
	Reasoning []Content `json:"reasoning,omitempty"`
	ToolUse   []ToolUse `json:"tool_use,omitempty"`
}

// ChatEntry is the full, persisted record of one chat session.
type ChatEntry struct {
	ID        SessionID `json:"id"`
	CreatedAt int64     `json:"created_at"`
	Summary   string    `json:"summary"`
	Messages  []Message `json:"messages"`

	// Version is an internal field that is never serialised to clients over
	// the wire. Neither store backend reads or increments it.
	Version uint64 `json:"-"`
}

// ChatMeta is the projection returned by history listing; it never includes
// message bodies.
type ChatMeta struct {
	ID        SessionID `json:"id"`
	CreatedAt int64     `json:"created_at"`
	Summary   string    `json:"summary"`
}

// ToolDescription documents a tool to both the model (via the system
// prompt) and a human operator (via list_tools_to_human).
type ToolDescription struct {
	NameForModel        string          `json:"name_for_model"`
	NameForHuman        string          `json:"name_for_human"`
	DescriptionForModel string          `json:"description_for_model"`
	Parameters          json.RawMessage `json:"parameters"`
	ArgsFormat          string          `json:"args_format"`
}

// summaryMaxLen is the truncation width applied to a ChatEntry's summary,
// derived from the first user message.
const summaryMaxLen = 64

// BuildSummary renders a chat's summary field from a user message's content:
// text is concatenated, image parts render as "[IMG]", binary asset parts as
// "[BIN]", then the whole string is truncated to 64 characters.
func BuildSummary(content []Content) string {
	var s string
	for _, c := range content {
		switch c.Kind {
		case ContentText:
			s += c.Text
		case ContentImageRef, ContentImageBin:
			s += "[IMG]"
		case ContentAssetRef:
			s += "[BIN]"
		}
	}
	r := []rune(s)
	if len(r) > summaryMaxLen {
		r = r[:summaryMaxLen]
	}
	return string(r)
}
