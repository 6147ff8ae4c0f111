package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultFalBaseURL = "https://fal.run"
	// MaxImagesPerRequest bounds ImageRequest.Count.
	MaxImagesPerRequest = 4
)

// DesignStyleSuffix is appended to every design image prompt.
const DesignStyleSuffix = `

Create a modern, clean UI design mockup. Focus on:
- Professional and polished appearance
- Clear visual hierarchy
- Modern design trends
- Appropriate use of whitespace
- Consistent styling
- Mobile-responsive layout considerations
- Accessible color contrasts
- Clean typography

Style: Modern UI/UX design mockup, high-fidelity, professional app interface`

// FalClient generates images with a fal.ai hosted model.
type FalClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewFalClient creates an image generator for model, e.g. "fal-ai/flux/schnell".
func NewFalClient(apiKey, model string) *FalClient {
	return &FalClient{
		apiKey:     apiKey,
		model:      strings.Trim(model, "/"),
		baseURL:    defaultFalBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewFalClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewFalClientWithBaseURL(apiKey, model, baseURL string) *FalClient {
	c := NewFalClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type falRequest struct {
	Prompt              string   `json:"prompt"`
	ImageSize           string   `json:"image_size"`
	NumImages           int      `json:"num_images"`
	EnableSafetyChecker bool     `json:"enable_safety_checker"`
	ImageURLs           []string `json:"image_urls,omitempty"`
}

type falResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// GenerateImages requests req.Count images (clamped to 1..MaxImagesPerRequest).
func (c *FalClient) GenerateImages(ctx context.Context, req ImageRequest) ([]string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &ServiceError{Status: http.StatusBadRequest, Message: "No prompt provided"}
	}
	if c.apiKey == "" {
		return nil, &ServiceError{Status: http.StatusInternalServerError, Message: "Image generation API key not configured"}
	}

	body, err := json.Marshal(falRequest{
		Prompt:              req.Prompt,
		ImageSize:           "landscape_16_9",
		NumImages:           min(max(req.Count, 1), MaxImagesPerRequest),
		EnableSafetyChecker: true,
		ImageURLs:           req.ReferenceImages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := withRetry(ctx, func() (*falResponse, error) {
		return c.do(ctx, body)
	})
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(resp.Images))
	for _, img := range resp.Images {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no images were generated: %w", ErrEmptyResponse)
	}
	return urls, nil
}

func (c *FalClient) do(ctx context.Context, body []byte) (*falResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Service: "fal", Status: resp.StatusCode, Body: string(respBody)}
	}

	var out falResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}
