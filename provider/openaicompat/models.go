package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/emberhq/ember"
)

// ListModels proxies the upstream "GET /models" endpoint verbatim, for the
// REST surface's model-listing passthrough. The response body is returned
// unparsed: callers forward it as-is rather than re-shaping it.
func (p *Provider) ListModels(ctx context.Context) (json.RawMessage, error) {
	url := p.baseURL + "/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ember.ErrLLM{Provider: p.name, Message: fmt.Sprintf("build request: %v", err)}
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ember.ErrLLM{Provider: p.name, Message: fmt.Sprintf("send request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.httpErr(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &ember.ErrLLM{Provider: p.name, Message: fmt.Sprintf("read response: %v", err)}
	}
	return json.RawMessage(raw), nil
}
