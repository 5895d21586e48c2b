// Package llm turns detection context into a validated risk assessment via
// a chat model, with one retry policy for transport failures and a bounded
// re-ask loop for malformed output.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/retry"
)

// Chat is the minimal model surface; the production implementation lives in
// openai.go and tests substitute a scripted fake.
type Chat interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// AssessmentContext is everything the model sees about one detection.
type AssessmentContext struct {
	DetectionType    string
	TelemetrySummary string
	SpatialContext   string
	TemporalTrend    string
	RagContext       string
}

type Client struct {
	chat         Chat
	policy       retry.Policy
	parseRetries int
}

type Option func(*Client)

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithParseRetries(n int) Option {
	return func(c *Client) { c.parseRetries = n }
}

func NewClient(chat Chat, opts ...Option) *Client {
	c := &Client{
		chat:         chat,
		policy:       retry.Default(),
		parseRetries: 2,
	}
	for _, f := range opts {
		f(c)
	}
	return c
}

// AssessRisk asks the model for a structured judgement and validates it.
// Transport failures follow the retry policy; schema failures get up to
// parseRetries re-asks with a JSON-only nudge before LLMBadOutput.
func (c *Client) AssessRisk(ctx context.Context, actx AssessmentContext) (model.Assessment, error) {
	user := fmt.Sprintf(assessmentTemplate,
		actx.DetectionType,
		actx.TelemetrySummary,
		actx.SpatialContext,
		actx.TemporalTrend,
		actx.RagContext,
	)

	var lastParseErr error
	for attempt := 0; attempt <= c.parseRetries; attempt++ {
		prompt := user
		if attempt > 0 {
			prompt = user + "\n\n" + jsonNudge
		}

		var raw string
		err := c.policy.Do(ctx, "llm.AssessRisk", func(ctx context.Context) error {
			var cerr error
			raw, cerr = c.chat.Chat(ctx, systemPrompt, prompt)
			return cerr
		})
		if err != nil {
			return model.Assessment{}, err
		}

		a, err := parseAssessment(raw)
		if err == nil {
			return a, nil
		}
		lastParseErr = err
	}
	return model.Assessment{}, errs.E(errs.KindLLMBadOutput, "llm.AssessRisk", lastParseErr)
}

// GenerateNarrative produces the operator-facing warning text. Called only
// for Orange and Red assessments.
func (c *Client) GenerateNarrative(ctx context.Context, a model.Assessment, locationLabel string) (string, error) {
	user := fmt.Sprintf(narrativeTemplate,
		a.RiskLevel, a.Confidence, a.Reasoning, locationLabel, a.TimeToFailure)

	var out string
	err := c.policy.Do(ctx, "llm.GenerateNarrative", func(ctx context.Context) error {
		var cerr error
		out, cerr = c.chat.Chat(ctx, systemPrompt, user)
		return cerr
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errs.Errorf(errs.KindLLMBadOutput, "llm.GenerateNarrative", "empty narrative")
	}
	return out, nil
}

var validActions = map[string]bool{
	"Monitor closely":               true,
	"Prepare evacuation":            true,
	"Evacuate immediately":          true,
	"Restrict access to slope area": true,
}

var validTimeToFailure = map[string]bool{
	"hours": true, "days": true, "unknown": true,
}

// parseAssessment tolerates markdown fences around the object but nothing
// else; everything it returns has passed the schema.
func parseAssessment(raw string) (model.Assessment, error) {
	text := stripFences(raw)

	var a model.Assessment
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		// retry leniently: models sometimes add fields we do not model
		if err2 := json.Unmarshal([]byte(text), &a); err2 != nil {
			return model.Assessment{}, fmt.Errorf("decode assessment: %w", err2)
		}
	}

	if !a.RiskLevel.Valid() {
		return model.Assessment{}, fmt.Errorf("risk_level %q not in {Yellow, Orange, Red}", a.RiskLevel)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return model.Assessment{}, fmt.Errorf("confidence %v outside [0,1]", a.Confidence)
	}
	if strings.TrimSpace(a.Reasoning) == "" {
		return model.Assessment{}, fmt.Errorf("reasoning is empty")
	}
	if !validActions[a.RecommendedAction] {
		return model.Assessment{}, fmt.Errorf("recommended_action %q not recognised", a.RecommendedAction)
	}
	if !validTimeToFailure[a.TimeToFailure] {
		return model.Assessment{}, fmt.Errorf("time_to_failure_estimate %q not in {hours, days, unknown}", a.TimeToFailure)
	}
	return a, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	// fall back to the outermost braces when the model adds prose
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		if i := strings.Index(s, "{"); i >= 0 {
			if j := strings.LastIndex(s, "}"); j > i {
				s = s[i : j+1]
			}
		}
	}
	return strings.TrimSpace(s)
}
