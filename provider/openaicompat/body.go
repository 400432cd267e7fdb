package openaicompat

import "github.com/emberhq/ember"

// buildBody converts an ember.ChatRequest into the wire request body.
func buildBody(req ember.ChatRequest, model string) chatRequest {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, buildMessage(m))
	}

	cfg := req.Config
	body := chatRequest{
		Model:               model,
		Messages:            messages,
		Temperature:         cfg.Temperature,
		TopP:                cfg.TopP,
		FrequencyPenalty:    cfg.FrequencyPenalty,
		PresencePenalty:     cfg.PresencePenalty,
		User:                cfg.User,
		Seed:                cfg.Seed,
		MaxCompletionTokens: cfg.MaxCompletionTokens,
	}
	if cfg.Model != "" {
		body.Model = cfg.Model
	}
	return body
}

func buildMessage(m ember.ModelMessage) wireMessage {
	wm := wireMessage{Role: m.Role, ToolCallID: m.ToolUse}

	if len(m.Parts) == 1 && m.Parts[0].ImageURL == "" {
		wm.Content = m.Parts[0].Text
		return wm
	}

	parts := make([]wireContentPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.ImageURL != "" {
			parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: p.ImageURL}})
			continue
		}
		parts = append(parts, wireContentPart{Type: "text", Text: p.Text})
	}
	wm.Content = parts
	return wm
}
