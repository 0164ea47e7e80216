package recognize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"receipts/internal/log"
)

const (
	DefaultQwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultQwenModel   = "qwen3-vl-plus"
)

var ErrEmptyReply = errors.New("model returned no answer")

// QwenRecognizer talks to Qwen-VL through DashScope's OpenAI-compatible
// chat completions endpoint.
type QwenRecognizer struct {
	client *openai.Client
	opts   Options
	logger *slog.Logger
}

func NewQwenRecognizer(apiKey, baseURL string, opts Options, logger *slog.Logger) (*QwenRecognizer, error) {
	if apiKey == "" {
		return nil, errors.New("QWEN_KEY is not set")
	}
	if baseURL == "" {
		baseURL = DefaultQwenBaseURL
	}
	if logger == nil {
		logger = slog.Default().With("component", "recognize")
	}
	opts = opts.withDefaults(DefaultQwenModel)

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &QwenRecognizer{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
		logger: logger.With("provider", "qwen"),
	}, nil
}

func (q *QwenRecognizer) Model() string { return q.opts.Model }

func (q *QwenRecognizer) Recognize(ctx context.Context, img Image) (Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, q.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := q.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: q.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: q.opts.Prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: img.DataURI()},
					},
				},
			},
		},
		// omitempty drops a literal 0
		Temperature: math.SmallestNonzeroFloat32,
		MaxTokens:   q.opts.MaxTokens,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("qwen chat completion: %w", err)
	}
	q.logger.InfoContext(ctx, "Model answered",
		log.FieldModel, q.opts.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens)

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Extraction{}, ErrEmptyReply
	}

	ext, err := ParseReply(resp.Choices[0].Message.Content)
	if err != nil {
		q.logger.WarnContext(ctx, "Unparseable model reply", log.FieldError, err)
		return Extraction{}, err
	}
	return ext, nil
}
