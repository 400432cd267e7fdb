package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/emberhq/ember"
)

// Provider implements ember.Provider for any OpenAI-compatible API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
}

// Option configures a Provider at construction time.
type Option func(*Provider)

// WithHTTPClient overrides the default *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithName overrides the provider name used for attribution in errors and
// traces. Default "openai-compat".
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// New creates an OpenAI-compatible chat provider. baseURL is the API base
// (e.g. "https://api.openai.com/v1", "http://localhost:11434/v1"); the
// "/chat/completions" path is appended automatically.
func New(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai-compat",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

// ChatStream streams raw content/reasoning token chunks into ch, then
// returns the final usage payload. ch is closed when streaming completes
// or on error.
func (p *Provider) ChatStream(ctx context.Context, req ember.ChatRequest, ch chan<- ember.StreamChunk) (ember.Usage, error) {
	defer close(ch)

	body := buildBody(req, p.model)
	body.Stream = true
	body.StreamOptions = &streamOpts{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return ember.Usage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ember.Usage{}, p.httpErr(resp)
	}

	return streamSSE(ctx, resp.Body, ch)
}

func (p *Provider) sendHTTP(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ember.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ember.ErrLLM{Provider: p.name, Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ember.ErrLLM{Provider: p.name, Message: fmt.Sprintf("send request: %v", err)}
	}
	return resp, nil
}

func (p *Provider) httpErr(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var eb errorBody
	msg := string(raw)
	if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}
	return &ember.ErrHTTP{Status: resp.StatusCode, Body: msg}
}
