package ember

import (
	"testing"
)

func TestParserPlainContent(t *testing.T) {
	p := NewParser()
	events := p.Feed("hello, world")
	events = append(events, p.Close()...)

	if len(events) != 1 || events[0].Kind != EventContentDelta || events[0].Text != "hello, world" {
		t.Fatalf("events = %+v", events)
	}
}

func TestParserSingleToolCall(t *testing.T) {
	p := NewParser()
	stream := "before" + fnName + "curl_url" + fnArgs + `{"url":"x"}` + fnExit + "after"
	events := p.Feed(stream)
	events = append(events, p.Close()...)

	var calls []*ToolUse
	for _, e := range events {
		if e.Kind == EventToolCall {
			calls = append(calls, e.Call)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1: %+v", len(calls), events)
	}
	if calls[0].FunctionName != "curl_url" || calls[0].Args != `{"url":"x"}` {
		t.Fatalf("call = %+v", calls[0])
	}
}

// TestParserArgsToolDeltaPrecedesToolCall pins the exact emission order for
// a single tool call: the args-phase ToolDelta (args text plus whichever
// marker terminated it) must come out before the ToolCall event it
// resolves to, for every terminator, not just the ones that chain into
// another call.
func TestParserArgsToolDeltaPrecedesToolCall(t *testing.T) {
	for _, terminator := range []string{fnExit, fnResult, fnName} {
		p := NewParser()
		stream := fnName + "curl_url" + fnArgs + `{"url":"x"}` + terminator
		events := p.Feed(stream)
		events = append(events, p.Close()...)

		var argsDeltaIdx, callIdx = -1, -1
		for i, e := range events {
			if e.Kind == EventToolDelta && e.Text == `{"url":"x"}`+terminator {
				argsDeltaIdx = i
			}
			if e.Kind == EventToolCall {
				callIdx = i
			}
		}
		if argsDeltaIdx < 0 {
			t.Fatalf("terminator %q: missing args-phase ToolDelta, got %+v", terminator, events)
		}
		if callIdx < 0 {
			t.Fatalf("terminator %q: missing ToolCall, got %+v", terminator, events)
		}
		if argsDeltaIdx > callIdx {
			t.Errorf("terminator %q: ToolDelta at %d, ToolCall at %d, want ToolDelta first: %+v", terminator, argsDeltaIdx, callIdx, events)
		}
	}
}

func TestParserClassificationFlipsAfterToolCall(t *testing.T) {
	p := NewParser()
	stream := "lead" + fnName + "t1" + fnArgs + "a1" + fnExit + "trail"
	events := p.Feed(stream)
	events = append(events, p.Close()...)

	var sawReasoning, sawContent bool
	for _, e := range events {
		if e.Kind == EventReasoningDelta {
			sawReasoning = true
		}
		if e.Kind == EventContentDelta && e.Text == "lead" {
			sawContent = true
		}
	}
	if !sawContent {
		t.Errorf("expected lead-in text classified as content, got %+v", events)
	}
	if !sawReasoning {
		t.Errorf("expected trailing text after a tool call classified as reasoning, got %+v", events)
	}
}

// TestParserClassificationStableAcrossSplits is the "parser classification"
// testable property: chunking a fixed stream at different split points must
// yield the same multiset of event kinds/text (joined), varying only in how
// delta events are chunked.
func TestParserClassificationStableAcrossSplits(t *testing.T) {
	stream := "intro " + fnName + "doit" + fnArgs + "payload" + fnExit + " outro " +
		fnName + "again" + fnArgs + "more" + fnExit + " tail"

	reference := collapse(runParser(stream, nil))

	splitPoints := [][]int{
		{1},
		{5, 10, 20},
		{len(stream) - 1},
		allSplits(len(stream), 7),
	}
	for _, splits := range splitPoints {
		got := collapse(runParser(stream, splits))
		if got != reference {
			t.Errorf("splits %v: got %q, want %q", splits, got, reference)
		}
	}
}

func TestParserKToolCallsInOrder(t *testing.T) {
	type wantCall struct{ name, args string }
	want := []wantCall{
		{"alpha", "1"},
		{"beta", "2"},
		{"gamma", "3"},
	}

	var stream string
	for _, w := range want {
		stream += "text " + fnName + w.name + fnArgs + w.args + fnExit
	}

	events := runParser(stream, []int{3, len(stream) / 2})

	var got []wantCall
	for _, e := range events {
		if e.Kind == EventToolCall {
			got = append(got, wantCall{e.Call.FunctionName, e.Call.Args})
		}
	}
	if len(got) != len(want) {
		t.Fatalf("got %d calls, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParserNeverFailsOnPartialMarker(t *testing.T) {
	p := NewParser()
	// Feed a marker byte-by-byte across multiple calls, plus a dangling
	// partial marker at end-of-stream.
	for _, b := range []byte(fnName[:len(fnName)-2]) {
		p.Feed(string(b))
	}
	events := p.Close()
	// No panics, and the partial marker is flushed back out as text.
	if len(events) == 0 {
		t.Fatalf("expected residual text to be flushed on Close")
	}
}

func runParser(stream string, splits []int) []Event {
	p := NewParser()
	var events []Event
	if len(splits) == 0 {
		events = append(events, p.Feed(stream)...)
	} else {
		prev := 0
		for _, s := range splits {
			if s <= prev || s > len(stream) {
				continue
			}
			events = append(events, p.Feed(stream[prev:s])...)
			prev = s
		}
		events = append(events, p.Feed(stream[prev:])...)
	}
	events = append(events, p.Close()...)
	return events
}

// collapse merges adjacent same-kind delta events into one by concatenating
// text, then renders a kind+text/call summary, so that differing chunking
// of the same logical content compares equal.
func collapse(events []Event) string {
	var out string
	var pendingKind EventKind
	var pendingText string
	hasPending := false

	flush := func() {
		if hasPending {
			out += kindLabel(pendingKind) + ":" + pendingText + "|"
			hasPending = false
			pendingText = ""
		}
	}

	for _, e := range events {
		switch e.Kind {
		case EventContentDelta, EventReasoningDelta:
			if hasPending && pendingKind == e.Kind {
				pendingText += e.Text
			} else {
				flush()
				pendingKind, pendingText, hasPending = e.Kind, e.Text, true
			}
		case EventToolDelta:
			// Tool-delta echo text isn't part of the logical
			// content/reasoning classification being compared here.
		case EventToolCall:
			flush()
			out += "CALL:" + e.Call.FunctionName + "(" + e.Call.Args + ")|"
		}
	}
	flush()
	return out
}

func kindLabel(k EventKind) string {
	switch k {
	case EventContentDelta:
		return "content"
	case EventReasoningDelta:
		return "reasoning"
	default:
		return "other"
	}
}

// allSplits returns split points every n bytes, for exhaustive-ish chunking.
func allSplits(length, n int) []int {
	var out []int
	for i := n; i < length; i += n {
		out = append(out, i)
	}
	return out
}
