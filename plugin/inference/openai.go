package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Config holds the OpenAI engine configuration.
type Config struct {
	BaseURL           string
	APIKey            string
	VisionModel       string
	MaxTokens         int
	RequestsPerMinute int
	Timeout           time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://api.openai.com/v1",
		VisionModel:       "gpt-4o-mini",
		MaxTokens:         1024,
		RequestsPerMinute: 30,
		Timeout:           2 * time.Minute,
	}
}

// OpenAIEngine implements Engine against an OpenAI-compatible API.
type OpenAIEngine struct {
	client  *openai.Client
	config  *Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIEngine creates a new OpenAI-backed engine.
func NewOpenAIEngine(cfg *Config, logger *slog.Logger) (*OpenAIEngine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}

	return &OpenAIEngine{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// AnalyzeDocument sends all frames in page order plus the instruction in a
// single chat completion call.
func (e *OpenAIEngine) AnalyzeDocument(ctx context.Context, req *Request) (string, error) {
	parts := make([]openai.ChatMessagePart, 0, len(req.Frames)+1)
	for i, frame := range req.Frames {
		data, err := frame.JPEG()
		if err != nil {
			return "", fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: req.Instruction,
	})

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	})

	return e.complete(ctx, messages, len(req.Frames))
}

// Chat performs a text-only completion.
func (e *OpenAIEngine) Chat(ctx context.Context, chat []Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(chat))
	for _, m := range chat {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return e.complete(ctx, messages, 0)
}

func (e *OpenAIEngine) complete(ctx context.Context, messages []openai.ChatCompletionMessage, frameCount int) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", Classify(err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     e.config.VisionModel,
		Messages:  messages,
		MaxTokens: e.config.MaxTokens,
	})
	if err != nil {
		f := Classify(err)
		e.logger.Warn("inference call failed",
			slog.String("model", e.config.VisionModel),
			slog.Int("frames", frameCount),
			slog.String("failure_kind", f.Kind.String()),
			slog.String("error", err.Error()))
		return "", f
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &Failure{Kind: FailureUnknown, Err: fmt.Errorf("empty response from model")}
	}

	e.logger.Debug("inference call complete",
		slog.String("model", e.config.VisionModel),
		slog.Int("frames", frameCount),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return resp.Choices[0].Message.Content, nil
}
