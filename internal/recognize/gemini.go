package recognize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"receipts/internal/log"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiRecognizer uses the Gemini API. Credentials come from the
// environment (GOOGLE_API_KEY or GEMINI_API_KEY).
type GeminiRecognizer struct {
	client *genai.Client
	opts   Options
	logger *slog.Logger
}

func NewGeminiRecognizer(ctx context.Context, opts Options, logger *slog.Logger) (*GeminiRecognizer, error) {
	if logger == nil {
		logger = slog.Default().With("component", "recognize")
	}
	opts = opts.withDefaults(DefaultGeminiModel)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiRecognizer{
		client: client,
		opts:   opts,
		logger: logger.With("provider", "gemini"),
	}, nil
}

func (g *GeminiRecognizer) Model() string { return g.opts.Model }

func (g *GeminiRecognizer) Recognize(ctx context.Context, img Image) (Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: g.opts.Prompt},
				{
					InlineData: &genai.Blob{
						MIMEType: img.MIME,
						Data:     img.Data,
					},
				},
			},
		},
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.opts.Model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: int32(g.opts.MaxTokens),
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("gemini generate content: %w", err)
	}
	g.logger.InfoContext(ctx, "Model answered",
		log.FieldModel, g.opts.Model,
		"duration_ms", time.Since(start).Milliseconds())

	raw := resp.Text()
	if raw == "" {
		return Extraction{}, ErrEmptyReply
	}

	ext, err := ParseReply(raw)
	if err != nil {
		g.logger.WarnContext(ctx, "Unparseable model reply", log.FieldError, err)
		return Extraction{}, err
	}
	return ext, nil
}
