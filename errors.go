package ember

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store and protocol layers. Callers use
// errors.Is against these; backend implementations wrap them with context
// via fmt.Errorf("...: %w", ErrX).
var (
	// ErrStorageConflict is returned when a backend transaction could not
	// commit because of a concurrent writer (bbolt write-lock contention
	// surfaces this only in pathological cases; badger's optimistic
	// transactions surface it routinely under contention).
	ErrStorageConflict = errors.New("ember: storage transaction conflict")

	// ErrIDCollision is returned internally when a minted SessionId already
	// exists; the session store retries up to 10 times before giving up.
	ErrIDCollision = errors.New("ember: id collision")

	// ErrMalformedRefcount is returned when a refcount keyspace entry is not
	// a valid big-endian uint64 (8 bytes).
	ErrMalformedRefcount = errors.New("ember: malformed refcount entry")

	// ErrAppendFailed is returned when a compare-and-swap append to a
	// session's message buffer exhausts its retry budget.
	ErrAppendFailed = errors.New("ember: append failed after retries")

	// ErrNotFound is returned by store Get/GetMeta/GetData when the key does
	// not exist.
	ErrNotFound = errors.New("ember: not found")

	// ErrToolNotFound is returned by the tool registry dispatch when a
	// parsed ToolUse names a tool that was never registered.
	ErrToolNotFound = errors.New("ember: tool not found")

	// ErrQuotaExceeded is returned by the script tool's native blob ops once
	// a run's blob-write quota is exhausted.
	ErrQuotaExceeded = errors.New("ember: quota exceeded")
)

// ErrLLM reports a failure from the upstream completion endpoint, carrying
// the provider name for attribution in logs and traces.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-2xx response from the upstream completion endpoint.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
