package ember

import (
	"time"

	"github.com/google/uuid"
)

// SessionID is a 128-bit time-ordered identifier. It is minted as a UUIDv7,
// whose first 48 bits are a millisecond Unix timestamp, which makes its raw
// bytes lexicographically ordered by creation time — exactly the property
// the session store's reverse-time listing relies on.
type SessionID uuid.UUID

// NewSessionID mints a new time-ordered session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.Must(uuid.NewV7()))
}

func (s SessionID) String() string { return uuid.UUID(s).String() }

// Bytes returns the 16 raw bytes, in the order used as the store key.
func (s SessionID) Bytes() []byte {
	b := uuid.UUID(s)
	return b[:]
}

// ParseSessionID parses the canonical hyphenated UUID text form.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(u), nil
}

// ToolUseID is a 128-bit random identifier minted by the orchestrator
// whenever the protocol parser completes a tool call.
type ToolUseID uuid.UUID

// NewToolUseID mints a new random tool-use identifier.
func NewToolUseID() ToolUseID {
	return ToolUseID(uuid.New())
}

func (t ToolUseID) String() string { return uuid.UUID(t).String() }

// ParseToolUseID parses the canonical hyphenated UUID text form.
func ParseToolUseID(s string) (ToolUseID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ToolUseID{}, err
	}
	return ToolUseID(u), nil
}

// NowUnix returns the current time as Unix seconds, used for ChatEntry's
// created_at.
func NowUnix() int64 {
	return time.Now().Unix()
}
