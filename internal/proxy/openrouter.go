package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second
)

// Client is a TextGenerator backed by OpenRouter chat completions.
type Client struct {
	apiKey, model  string
	baseURL        string
	referer, title string
	httpClient     *http.Client
}

// NewClient creates an OpenRouter client that generates text with model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		referer: "https://github.com/kalambet/voicepad",
		title:   "voicepad",
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, model, baseURL string) *Client {
	c := NewClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Generate sends req as a single user message and returns the first choice.
// Images are attached as data URL content parts.
func (c *Client) Generate(ctx context.Context, req TextRequest) (string, error) {
	msg := ChatMessage{Role: "user", Content: req.Prompt}
	if len(req.Images) > 0 {
		parts := []ContentPart{{Type: "text", Text: req.Prompt}}
		for _, img := range req.Images {
			url := "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
			parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
		}
		if req.ImageHint != "" {
			parts = append(parts, ContentPart{Type: "text", Text: req.ImageHint})
		}
		msg.Content = parts
	}

	resp, err := c.Chat(ctx, ChatRequest{Model: c.model, Messages: []ChatMessage{msg}})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openrouter: %w", ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Chat sends a non-streaming chat completion request, retrying on 429.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter: encoding chat request: %w", err)
	}
	return withRetry(ctx, func() (*ChatResponse, error) {
		var out ChatResponse
		if err := c.roundTrip(ctx, http.MethodPost, "/chat/completions", body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// ListModels returns the models OpenRouter currently serves.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var list ModelList
	if err := c.roundTrip(ctx, http.MethodGet, "/models", nil, &list); err != nil {
		return nil, err
	}
	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

// roundTrip performs one API call and decodes a 200 body into out. Other
// statuses become a *StatusError carrying the start of the body.
func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("openrouter: building %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openrouter %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Service: "openrouter", Status: resp.StatusCode, Body: string(snippet)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openrouter %s: decoding response: %w", path, err)
	}
	return nil
}
