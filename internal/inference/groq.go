package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"umabot/internal/storage"
	"umabot/pkg/logx"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultTextModel   = "openai/gpt-oss-120b"
	DefaultVisionModel = "meta-llama/llama-4-scout-17b-16e-instruct"
	DefaultAudioModel  = "whisper-large-v3-turbo"

	defaultTextPrompt = "You are Uma AI, a friendly and helpful assistant inside a Telegram bot. " +
		"Answer briefly and to the point in the user's language. " +
		"Format with Telegram HTML only (<b>, <i>, <u>, <s>, <code>, <a>, <blockquote>, <tg-spoiler>); never use Markdown or headings."
	defaultVisionPrompt = "You are Uma AI, an assistant that analyzes images inside a Telegram bot. " +
		"Describe images in detail, answer questions about them and transcribe any visible text. " +
		"Format with Telegram HTML only; never use Markdown or headings."

	textHistoryTurns  = 10
	imageHistoryTurns = 5
)

// searchTool enables Groq's server-side browser search.
var searchTool = openai.Tool{Type: openai.ToolType("browser_search")}

type GroqConfig struct {
	APIKey       string
	BaseURL      string
	TextModel    string
	VisionModel  string
	AudioModel   string
	Language     string
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
	TextPrompt   string
	VisionPrompt string
}

func (c GroqConfig) withDefaults() GroqConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TextModel == "" {
		c.TextModel = DefaultTextModel
	}
	if c.VisionModel == "" {
		c.VisionModel = DefaultVisionModel
	}
	if c.AudioModel == "" {
		c.AudioModel = DefaultAudioModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.TextPrompt == "" {
		c.TextPrompt = defaultTextPrompt
	}
	if c.VisionPrompt == "" {
		c.VisionPrompt = defaultVisionPrompt
	}
	return c
}

// GroqClient implements Backend against Groq's OpenAI-compatible API.
type GroqClient struct {
	cfg    GroqConfig
	client *openai.Client
	log    logx.Logger
}

func NewGroqClient(cfg GroqConfig, log logx.Logger) *GroqClient {
	cfg = cfg.withDefaults()
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &GroqClient{cfg: cfg, client: openai.NewClientWithConfig(oc), log: log}
}

func (g *GroqClient) AnswerText(ctx context.Context, text string, history []storage.Turn, search bool) (string, error) {
	msgs := g.withHistory(g.cfg.TextPrompt, history, textHistoryTurns)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	req := openai.ChatCompletionRequest{
		Model:       g.cfg.TextModel,
		Messages:    msgs,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}
	if search {
		req.Tools = []openai.Tool{searchTool}
	}
	return g.complete(ctx, req)
}

func (g *GroqClient) AnswerImage(ctx context.Context, image Blob, caption string, history []storage.Turn) (string, error) {
	if caption == "" {
		caption = "Describe this image in detail."
	}
	return g.vision(ctx, []Blob{image}, caption, history, g.cfg.MaxTokens)
}

func (g *GroqClient) AnswerImages(ctx context.Context, images []Blob, caption string, history []storage.Turn) (string, error) {
	if caption == "" {
		caption = fmt.Sprintf("Analyze all %d images in detail: describe each and how they relate to each other.", len(images))
	} else {
		caption = "Analyze all images together and give one combined answer. " + caption
	}
	return g.vision(ctx, images, caption, history, g.cfg.MaxTokens*3/2)
}

func (g *GroqClient) vision(ctx context.Context, images []Blob, prompt string, history []storage.Turn, maxTokens int) (string, error) {
	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	for _, img := range images {
		mime := img.MIMEType
		if !strings.HasPrefix(mime, "image/") {
			mime = "image/jpeg"
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: prompt})

	msgs := g.withHistory(g.cfg.VisionPrompt, history, imageHistoryTurns)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})

	return g.complete(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.VisionModel,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: g.cfg.Temperature,
	})
}

func (g *GroqClient) Transcribe(ctx context.Context, audio Blob) (string, error) {
	name := audio.Name
	if name == "" || !strings.Contains(name, ".") {
		name = "audio.ogg"
	}
	resp, err := g.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    g.cfg.AudioModel,
		FilePath: name,
		Reader:   bytes.NewReader(audio.Data),
		Language: g.cfg.Language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (g *GroqClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", req.Model, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	g.log.Debug("completion done",
		logx.String("model", req.Model),
		logx.Int("prompt_tokens", resp.Usage.PromptTokens),
		logx.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// withHistory prepends the system prompt and the last n turns as user/assistant pairs.
func (g *GroqClient) withHistory(system string, history []storage.Turn, n int) []openai.ChatCompletionMessage {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	msgs := make([]openai.ChatCompletionMessage, 0, 2+2*len(history))
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, t := range history {
		q := t.Input.Text
		if q == "" {
			q = "[" + string(t.Input.Kind) + "]"
		}
		msgs = append(msgs,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: q},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.Response},
		)
	}
	return msgs
}
