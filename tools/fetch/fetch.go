// Package fetch implements curl_url, the agent's window onto the open web:
// it retrieves a URL and classifies the response by media type, converting
// HTML to Markdown, passing text-ish bodies through, rasterising images
// (SVG first converted to PNG), and spilling anything else to the asset
// store unless it is short enough to inline as text.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-shiori/go-readability"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
	"github.com/emberhq/ember/internal/imgconv"
	"github.com/emberhq/ember/store"
)

const (
	userAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxFetchBytes = 20 << 20 // 20 MiB
	inlineMax     = 10 << 10 // 10 KiB: the ceiling under which a non-text binary is still inlined as text
)

// Tool is the curl_url handler. It owns no state beyond an HTTP client and
// a reference to the blob store it spills images/assets into.
type Tool struct {
	client *http.Client
	blobs  store.BlobStore
}

// New creates a curl_url tool backed by blobs for image and asset storage.
func New(blobs store.BlobStore) *Tool {
	return &Tool{
		client: &http.Client{Timeout: 40 * time.Second},
		blobs:  blobs,
	}
}

func (t *Tool) Name() string { return "curl_url" }

func (t *Tool) Description() ember.ToolDescription {
	return ember.ToolDescription{
		NameForModel: "curl_url",
		NameForHuman: "URL fetch",
		DescriptionForModel: "Access and retrieve content from a specific URL.\n" +
			"* Fetches image binary and any text-based content.\n" +
			"* If the remote content is an image, it is stored and an image reference is returned; the format may be converted for rendering.\n" +
			"* If the remote content is HTML, it is converted to Markdown with links preserved as absolute URLs.\n" +
			"* Other text-based content is returned as-is; other binary content is stored as an asset.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The target URL to fetch content from."},
				"method": {"type": "string", "enum": ["GET", "POST"], "description": "HTTP method. Use POST only when submitting data. Defaults to GET."},
				"keep_script": {"type": "boolean", "description": "Set to true only to inspect Javascript code itself. Defaults to false (scripts stripped for cleaner reading)."},
				"post_content": {"type": "string", "description": "Body for POST requests. Ignored for GET."},
				"post_content_type": {"type": "string", "description": "Content-Type for post_content. Defaults to application/json. Ignored for GET."},
				"label": {"type": "string", "description": "Optional label for this request."}
			},
			"required": ["url"]
		}`),
		ArgsFormat: "Input must be a JSON object.",
	}
}

type fetchArgs struct {
	URL             string `json:"url"`
	Method          string `json:"method"`
	KeepScript      bool   `json:"keep_script"`
	PostContent     string `json:"post_content"`
	PostContentType string `json:"post_content_type"`
	Label           string `json:"label"`
}

func (t *Tool) Call(ctx context.Context, args string) ([]ember.Content, error) {
	var a fetchArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return nil, fmt.Errorf("curl_url: invalid args: %w", err)
	}
	if a.URL == "" {
		return nil, fmt.Errorf("curl_url: url is required")
	}

	method := http.MethodGet
	var body io.Reader
	if strings.EqualFold(a.Method, "post") {
		method = http.MethodPost
		if a.PostContent != "" {
			body = strings.NewReader(a.PostContent)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.URL, body)
	if err != nil {
		return nil, fmt.Errorf("curl_url: invalid url: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if method == http.MethodPost {
		ct := a.PostContentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("curl_url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return []ember.Content{ember.NewText(fmt.Sprintf("Failed to fetch URL. HTTP Status: %d", resp.StatusCode))}, nil
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("curl_url: reading response: %w", err)
	}

	label := a.Label
	if label == "" {
		label = a.URL
	}

	typ, sub := classify(resp.Header.Get("Content-Type"), payload)

	switch {
	case typ == "text" && sub == "html":
		skip := []string{"style"}
		if !a.KeepScript {
			skip = append(skip, "script")
		}
		return []ember.Content{ember.NewText(htmlToMarkdown(readableHTML(payload, a.URL), skip))}, nil

	case typ == "text", typ == "application" && (sub == "json" || sub == "javascript" || sub == "xml" || sub == "ecmascript"):
		return []ember.Content{ember.NewText(string(payload))}, nil

	case typ == "image":
		id, err := t.storeImage(ctx, sub, payload)
		if err != nil {
			return nil, fmt.Errorf("curl_url: %w", err)
		}
		return []ember.Content{ember.NewImageRef(id, label)}, nil

	default:
		if utf8.Valid(payload) && len(payload) < inlineMax {
			return []ember.Content{ember.NewText(string(payload))}, nil
		}
		id, err := t.blobs.Save(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("curl_url: storing asset: %w", err)
		}
		return []ember.Content{ember.NewAssetRef(id, label)}, nil
	}
}

// classify resolves a top-level/sub media type pair, preferring the
// Content-Type header and falling back to content sniffing (mirroring the
// original's path-extension fallback, but by sniffing bytes rather than
// guessing from the URL's suffix) when the header is absent or opaque.
func classify(contentType string, payload []byte) (typ, sub string) {
	if contentType != "" {
		media := contentType
		if i := strings.IndexByte(media, ';'); i >= 0 {
			media = media[:i]
		}
		media = strings.TrimSpace(strings.ToLower(media))
		if media != "" && media != "application/octet-stream" {
			if i := strings.IndexByte(media, '/'); i >= 0 {
				return media[:i], media[i+1:]
			}
		}
	}
	m := mimetype.Detect(payload)
	media := strings.ToLower(m.String())
	if i := strings.IndexByte(media, ';'); i >= 0 {
		media = media[:i]
	}
	if i := strings.IndexByte(media, '/'); i >= 0 {
		return media[:i], media[i+1:]
	}
	return "application", "octet-stream"
}

func (t *Tool) storeImage(ctx context.Context, sub string, payload []byte) (asset.ID, error) {
	if strings.Contains(sub, "svg") {
		return t.rasterizeSVG(ctx, string(payload))
	}
	png, err := imgconv.ToPNG(payload)
	if err != nil {
		return asset.ID{}, err
	}
	return t.blobs.Save(ctx, png)
}

// readableHTML runs go-shiori/go-readability's boilerplate-stripping
// extraction over the raw page body before Markdown conversion, falling
// back to the untouched body when extraction fails (pages too thin for
// readability's heuristics, or a malformed URL).
func readableHTML(payload []byte, rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return string(payload)
	}
	article, err := readability.FromReader(bytes.NewReader(payload), parsed)
	if err != nil || article.Content == "" {
		return string(payload)
	}
	return article.Content
}

var _ ember.Tool = (*Tool)(nil)
