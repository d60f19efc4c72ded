// Package judge0 implements the key-parameterized upstream operations for
// the Judge0 remote code-execution sandbox.
package judge0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://judge0-ce.p.rapidapi.com"
	requestTimeout = 15 * time.Second
)

// Submission is one code-execution request.
type Submission struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin,omitempty"`
}

// Status is the Judge0 execution status. ID 3 means accepted; everything
// else is a compile/runtime/limit failure of the submitted code, which is a
// successful sandbox call from the gate's point of view.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is the outcome of a synchronous (wait=true) submission.
type Result struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Message       string `json:"message"`
	Status        Status `json:"status"`
	Time          string `json:"time"`
	Memory        int    `json:"memory"`
}

// Client calls the Judge0 API. As with the Gemini client, the API key is a
// per-call parameter.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Judge0 client. An empty baseURL selects the hosted
// CE endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
	}
}

// NewClientWithHTTPClient creates a Client against a custom base URL.
// Intended for tests and self-hosted Judge0 deployments.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// Execute runs a submission synchronously under the given API key. Upstream
// failure text is preserved verbatim in the returned error for quota
// classification.
func (c *Client) Execute(ctx context.Context, apiKey string, sub Submission) (Result, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return Result{}, fmt.Errorf("marshal submission: %w", err)
	}

	url := c.baseURL + "/submissions?base64_encoded=false&wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RapidAPI-Key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("judge0 execute: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read submission response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Result{}, fmt.Errorf("judge0 execute: status %d: %s", resp.StatusCode, data)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("decode submission response: %w", err)
	}
	return result, nil
}
