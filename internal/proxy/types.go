package proxy

import (
	"context"
	"io"
)

// InlineImage is a reference image sent alongside a text prompt.
type InlineImage struct {
	Data     []byte
	MimeType string
}

// TextRequest is a prompt for a text generation service.
type TextRequest struct {
	Prompt string
	// Images are attached after the prompt, followed by ImageHint.
	Images    []InlineImage
	ImageHint string
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, req TextRequest) (string, error)
}

// ImageRequest asks for Count images. ReferenceImages are data URLs.
type ImageRequest struct {
	Prompt          string
	Count           int
	ReferenceImages []string
}

// ImageGenerator returns the URLs of the generated images.
type ImageGenerator interface {
	GenerateImages(ctx context.Context, req ImageRequest) ([]string, error)
}

// Transcriber turns one audio payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// ChatMessage is an OpenAI-compatible chat message. Content is either a
// string or a list of content parts.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// ChatRequest is the OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatResponse is the non-streaming chat completion response.
type ChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Model represents a model entry returned by the /v1/models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
