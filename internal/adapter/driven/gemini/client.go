// Package gemini implements the key-parameterized upstream operations for
// the Gemini text-generation API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"

	// Upstream calls are the latency-dominant step of a gated request;
	// bound them so one slow generation cannot hold a request open.
	requestTimeout = 15 * time.Second
)

// Client calls the Gemini generateContent API. The API key is a per-call
// parameter, not client state: the same client serves every key the pool
// hands out as well as user-supplied keys.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewClient creates a Gemini client. An empty baseURL selects the public
// endpoint. Model metadata probes go through an httpcache memory transport
// so repeated key validations hit the conditional-request cache instead of
// the upstream.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	transport := httpcache.NewMemoryCacheTransport()
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: requestTimeout},
		baseURL:    baseURL,
		model:      defaultModel,
	}
}

// NewClientWithHTTPClient creates a Client against a custom base URL.
// Intended for tests injecting an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		model:      defaultModel,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// GenerateText sends prompt to the model under the given API key and returns
// the first candidate's text. Upstream failure text is preserved verbatim in
// the returned error: quota classification matches on it.
func (c *Client) GenerateText(ctx context.Context, apiKey, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read generate response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini generate: status %d: %s", resp.StatusCode, data)
	}

	var parsed generateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini generate: empty candidate list")
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// ValidateKey probes the models listing with the given key. Used when a user
// submits their own key, before it is encrypted into the session record.
// The listing is served from the conditional-request cache on repeats.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) error {
	url := c.baseURL + "/v1beta/models?pageSize=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini validate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return fmt.Errorf("gemini validate: status %d: %s", resp.StatusCode, data)
	}
	return nil
}
