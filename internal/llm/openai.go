package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/observability"
)

// OpenAIConfig configures the production chat backend. BaseURL may point at
// any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	CallTimeout time.Duration
	RatePerSec  float64
}

type OpenAIChat struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
}

func NewOpenAIChat(cfg OpenAIConfig) (*OpenAIChat, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &OpenAIChat{
		client:  openai.NewClientWithConfig(oc),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}, nil
}

func (o *OpenAIChat) Chat(ctx context.Context, system, user string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", errs.E(errs.KindDeadline, "llm.Chat", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: float32(o.cfg.Temperature),
		TopP:        float32(o.cfg.TopP),
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		kind := classify(err)
		observability.ObserveLLMCall(outcomeFor(kind), elapsed)
		return "", errs.E(kind, "llm.Chat", err)
	}
	if len(resp.Choices) == 0 {
		observability.ObserveLLMCall("bad_output", elapsed)
		return "", errs.Errorf(errs.KindLLMBadOutput, "llm.Chat", "no choices in completion")
	}
	observability.ObserveLLMCall("ok", elapsed)
	return resp.Choices[0].Message.Content, nil
}

// classify maps transport failures onto retryable/terminal kinds: 429 is
// throttling, 5xx and network errors are transient, other 4xx are terminal.
func classify(err error) errs.Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return errs.KindLLMThrottled
		case apiErr.HTTPStatusCode >= 500:
			return errs.KindLLMTransient
		default:
			return errs.KindLLMBadOutput
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return errs.KindLLMThrottled
		}
		if reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0 {
			return errs.KindLLMTransient
		}
		return errs.KindLLMBadOutput
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.KindLLMTransient
	}
	// unclassified network failure
	return errs.KindLLMTransient
}

func outcomeFor(kind errs.Kind) string {
	switch kind {
	case errs.KindLLMThrottled:
		return "throttled"
	case errs.KindLLMBadOutput:
		return "bad_output"
	default:
		return "transient"
	}
}

var _ Chat = (*OpenAIChat)(nil)

// String implements fmt.Stringer for startup logging without the key.
func (o *OpenAIChat) String() string {
	return fmt.Sprintf("openai-chat{model=%s, max_tokens=%d}", o.cfg.Model, o.cfg.MaxTokens)
}
