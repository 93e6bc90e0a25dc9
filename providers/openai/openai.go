// Package openai implements the pipeline's transcription, content
// generation and cover illustration contracts on the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/goldenfocus/vibelog-capture/providers"
)

const (
	defaultChatModel = openai.GPT4o
	maxCoverPrompt   = 900
)

const systemPrompt = `You are an editor for a voice blogging platform.
The user dictated a rough spoken-word note. Rewrite it as a polished,
well-structured blog post: a short title on the first line, then the
body. Preserve the author's voice and meaning; fix grammar, remove
filler words, and organize the ideas into paragraphs. Reply with the
post only.`

// Client implements providers.Transcriber, providers.ContentGenerator
// and providers.CoverArtist.
type Client struct {
	api       *openai.Client
	log       *log.Logger
	chatModel string
}

// Option tweaks a Client.
type Option func(*Client)

// WithChatModel overrides the content-generation model.
func WithChatModel(model string) Option {
	return func(c *Client) { c.chatModel = model }
}

// WithBaseURL points the client at a different API host. Used by tests
// to run against a local stub server.
func WithBaseURL(apiKey, baseURL string) Option {
	return func(c *Client) {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = baseURL
		c.api = openai.NewClientWithConfig(cfg)
	}
}

// New creates a client for the given API key.
func New(apiKey string, logger *log.Logger, opts ...Option) *Client {
	c := &Client{
		api:       openai.NewClient(apiKey),
		log:       logger,
		chatModel: defaultChatModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe sends the recording to Whisper and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: "recording" + extensionFor(mimeType),
	})
	if err != nil {
		return "", mapErr("transcription", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Generate rewrites a transcription into a publishable post.
func (c *Client) Generate(ctx context.Context, transcription string) (providers.GeneratedContent, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcription},
		},
	})
	if err != nil {
		return providers.GeneratedContent{}, mapErr("content generation", err)
	}
	if len(resp.Choices) == 0 {
		return providers.GeneratedContent{}, errors.New("openai: empty completion")
	}
	return providers.GeneratedContent{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
	}, nil
}

// Illustrate generates a cover image for the content.
func (c *Client) Illustrate(ctx context.Context, content string) (providers.CoverImage, error) {
	prompt := coverPrompt(content)
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Model:  openai.CreateImageModelDallE3,
		Prompt: prompt,
		N:      1,
		Size:   openai.CreateImageSize1024x1024,
	})
	if err != nil {
		return providers.CoverImage{}, mapErr("cover image", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return providers.CoverImage{}, errors.New("openai: image response carried no URL")
	}
	return providers.CoverImage{
		URL:    resp.Data[0].URL,
		Alt:    altText(content),
		Width:  1024,
		Height: 1024,
	}, nil
}

func coverPrompt(content string) string {
	if len(content) > maxCoverPrompt {
		content = content[:maxCoverPrompt]
	}
	return "A tasteful, modern editorial illustration for a blog post. " +
		"No text or lettering in the image. The post:\n\n" + content
}

// altText derives accessible alt text from the post's first line.
func altText(content string) string {
	title := content
	if i := strings.IndexByte(content, '\n'); i > 0 {
		title = content[:i]
	}
	title = strings.TrimSpace(strings.TrimLeft(title, "# "))
	if title == "" {
		return "Cover illustration"
	}
	return "Cover illustration for: " + title
}

func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return ".mp3"
	default:
		return ".wav"
	}
}

// mapErr converts API failures into the pipeline's typed errors. Quota
// rejections become providers.QuotaError so the state machine can show
// upgrade messaging instead of a raw vendor error.
func mapErr(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return &providers.QuotaError{
				Message: fmt.Sprintf("%s limit reached", op),
				Benefits: []string{
					"unlimited transcription minutes",
					"longer recordings",
					"AI cover images and narration",
				},
			}
		}
	}
	return fmt.Errorf("openai %s: %w", op, err)
}
