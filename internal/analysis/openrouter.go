package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pwnlabs/gymscout/internal/sitegraph"
)

// ClientConfig configures the chat client shared by the agents.
type ClientConfig struct {
	APIKey         string
	BaseURL        string
	GeneratorModel string
	EvaluatorModel string
	CallsPerMinute int
	RequestTimeout time.Duration
}

// Client is a rate-limited OpenAI-compatible chat client. Generators and
// evaluators built from the same client share one request budget.
type Client struct {
	api     *openai.Client
	cfg     ClientConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient validates the config and builds the shared client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("analysis api key is required")
	}
	if cfg.GeneratorModel == "" {
		return nil, errors.New("generator model is required")
	}
	if cfg.EvaluatorModel == "" {
		cfg.EvaluatorModel = cfg.GeneratorModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.CallsPerMinute)), 1),
		logger:  logger,
	}, nil
}

func (c *Client) chat(ctx context.Context, model, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: limiter: %v", ErrUnavailable, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformed)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformed)
	}
	return content, nil
}

// NewRegistry builds one generator per supported category off the shared
// client.
func NewRegistry(client *Client) Registry {
	registry := make(Registry, len(categoryGuidance))
	for category := range categoryGuidance {
		registry[category] = &openRouterGenerator{client: client, category: category}
	}
	return registry
}

type openRouterGenerator struct {
	client   *Client
	category sitegraph.Category
}

func (g *openRouterGenerator) Generate(ctx context.Context, req Request, prior Draft, feedback []string) (string, error) {
	system := generatorPreamble
	if guidance, ok := categoryGuidance[g.category]; ok {
		system += "\n\n" + guidance
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Challenge: %s\nURL: %s\nCategory: %s\n\n", req.Title, req.URL, req.Category)
	b.WriteString("Challenge description:\n\n")
	b.WriteString(req.Markdown)
	if len(req.Hints) > 0 {
		b.WriteString("\n\nDownloadable materials:\n")
		for _, hint := range req.Hints {
			fmt.Fprintf(&b, "- %s\n", hint)
		}
	}
	if prior.Content != "" {
		b.WriteString("\n\nYour previous draft:\n\n")
		b.WriteString(prior.Content)
	}
	if len(feedback) > 0 {
		b.WriteString("\n\nYour previous draft was rejected. Address every point below:\n")
		for i, fb := range feedback {
			fmt.Fprintf(&b, "%d. %s\n", i+1, fb)
		}
	}

	content, err := g.client.chat(ctx, g.client.cfg.GeneratorModel, system, b.String())
	if err != nil {
		return "", err
	}
	g.client.logger.Debug("draft generated",
		zap.String("challenge", req.ChallengeID),
		zap.Int("feedback_rounds", len(feedback)),
		zap.Int("bytes", len(content)),
	)
	return content, nil
}

// OpenRouterEvaluator judges drafts with a (typically stronger) model.
type OpenRouterEvaluator struct {
	client *Client
}

// NewOpenRouterEvaluator builds the evaluator off the shared client.
func NewOpenRouterEvaluator(client *Client) *OpenRouterEvaluator {
	return &OpenRouterEvaluator{client: client}
}

// Evaluate asks the model for a verdict and parses the fixed reply format.
func (e *OpenRouterEvaluator) Evaluate(ctx context.Context, req Request, draft Draft) (Verdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Challenge: %s (%s)\n\n", req.Title, req.Category)
	b.WriteString("Challenge description:\n\n")
	b.WriteString(req.Markdown)
	fmt.Fprintf(&b, "\n\nCandidate ticket (iteration %d):\n\n", draft.Iteration)
	b.WriteString(draft.Content)

	reply, err := e.client.chat(ctx, e.client.cfg.EvaluatorModel, evaluatorPrompt, b.String())
	if err != nil {
		return Verdict{}, err
	}
	return parseVerdict(reply)
}

func parseVerdict(reply string) (Verdict, error) {
	lines := strings.SplitN(strings.TrimSpace(reply), "\n", 2)
	head := strings.ToUpper(strings.TrimSpace(lines[0]))
	switch {
	case strings.HasPrefix(head, "VERDICT: ACCEPT"):
		return Verdict{Accepted: true}, nil
	case strings.HasPrefix(head, "VERDICT: REVISE"):
		feedback := ""
		if len(lines) > 1 {
			feedback = strings.TrimSpace(lines[1])
		}
		if feedback == "" {
			return Verdict{}, fmt.Errorf("%w: revise verdict without feedback", ErrMalformed)
		}
		return Verdict{Accepted: false, Feedback: feedback}, nil
	default:
		return Verdict{}, fmt.Errorf("%w: unrecognized verdict %q", ErrMalformed, lines[0])
	}
}
