package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/emberhq/ember"
)

// streamSSE reads an SSE stream from body, sends content/reasoning token
// chunks to ch, and returns the final usage payload carried by the
// stream's closing frame.
func streamSSE(ctx context.Context, body io.Reader, ch chan<- ember.StreamChunk) (ember.Usage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var usage ember.Usage

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatResponseChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
			if chunk.Usage.PromptTokensDetails != nil {
				usage.CachedTokens = chunk.Usage.PromptTokensDetails.CachedTokens
			}
		}

		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.ReasoningContent != "" {
			if !sendChunk(ctx, ch, ember.StreamChunk{Kind: ember.StreamChunkReasoning, Text: delta.ReasoningContent}) {
				return usage, ctx.Err()
			}
		}
		if delta.Content != "" {
			if !sendChunk(ctx, ch, ember.StreamChunk{Kind: ember.StreamChunkContent, Text: delta.Content}) {
				return usage, ctx.Err()
			}
		}
	}

	return usage, scanner.Err()
}

func sendChunk(ctx context.Context, ch chan<- ember.StreamChunk, c ember.StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
