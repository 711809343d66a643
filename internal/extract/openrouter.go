package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const extractionSystemPrompt = `You convert rendered web pages from a security training platform into
clean markdown. You receive the page HTML and a screenshot of the same
page. Reproduce the challenge description faithfully: keep headings,
code blocks, file names, hashes, and hyperlinks. Omit navigation bars,
footers, and account chrome. Output only markdown.`

// OpenRouterConfig configures the vision extractor.
type OpenRouterConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	CallsPerMinute int
	RequestTimeout time.Duration
}

// OpenRouterExtractor calls an OpenAI-compatible chat endpoint with the
// page HTML and screenshot. All calls share one rate limiter.
type OpenRouterExtractor struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenRouterExtractor builds the extractor. BaseURL defaults to the
// OpenRouter endpoint so any compatible provider can be pointed at.
func NewOpenRouterExtractor(cfg OpenRouterConfig, logger *zap.Logger) (*OpenRouterExtractor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("extractor api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("extractor model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &OpenRouterExtractor{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.CallsPerMinute)), 1),
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

// Extract sends the capture to the model and returns its markdown.
func (e *OpenRouterExtractor) Extract(ctx context.Context, capture Capture) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: limiter: %v", ErrExtraction, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	userParts := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: fmt.Sprintf("Page: %s\nTitle: %s\n\nHTML:\n%s", capture.URL, capture.Title, capture.HTML),
		},
	}
	if len(capture.Screenshot) > 0 {
		userParts = append(userParts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(capture.Screenshot),
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: userParts},
		},
	}

	resp, err := e.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", ErrExtraction)
	}

	markdown := strings.TrimSpace(resp.Choices[0].Message.Content)
	if markdown == "" {
		return "", fmt.Errorf("%w: model returned empty content", ErrExtraction)
	}
	e.logger.Debug("page extracted",
		zap.String("url", capture.URL),
		zap.Int("markdown_bytes", len(markdown)),
	)
	return markdown, nil
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ErrExtraction, err)
}
