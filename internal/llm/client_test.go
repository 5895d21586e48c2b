package llm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/retry"
)

const goodJSON = `{
  "risk_level": "Orange",
  "confidence": 0.82,
  "reasoning": "Moisture exceeds the site threshold and three sensors agree.",
  "trigger_factors": ["moisture saturation", "spatial correlation", "rainfall"],
  "recommended_action": "Prepare evacuation",
  "time_to_failure_estimate": "days",
  "references": ["NBRO threshold"]
}`

// scriptedChat replays canned responses and errors in order.
type scriptedChat struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (s *scriptedChat) Chat(_ context.Context, _, user string) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, user)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return s.responses[len(s.responses)-1], nil
}

func fastPolicy() retry.Policy {
	p := retry.Default()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func testContext() AssessmentContext {
	return AssessmentContext{
		DetectionType:    "CLUSTER DETECTION: 3 sensors",
		TelemetrySummary: "moisture 95%, tilt 6 mm/hr",
		SpatialContext:   "3 sensors within 25 m agree",
		TemporalTrend:    "rising moisture over 24h",
		RagContext:       "1 hazard zone within 1.0 km: 1 High",
	}
}

func TestAssessRisk_HappyPath(t *testing.T) {
	chat := &scriptedChat{responses: []string{goodJSON}}
	c := NewClient(chat, WithRetryPolicy(fastPolicy()))

	a, err := c.AssessRisk(context.Background(), testContext())
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}
	if a.RiskLevel != model.RiskOrange || a.Confidence != 0.82 {
		t.Fatalf("assessment = %+v", a)
	}
	if a.RecommendedAction != "Prepare evacuation" || a.TimeToFailure != "days" {
		t.Fatalf("assessment = %+v", a)
	}
	if chat.calls != 1 {
		t.Fatalf("calls = %d, want 1", chat.calls)
	}
}

func TestAssessRisk_ToleratesMarkdownFences(t *testing.T) {
	chat := &scriptedChat{responses: []string{"```json\n" + goodJSON + "\n```"}}
	c := NewClient(chat, WithRetryPolicy(fastPolicy()))

	a, err := c.AssessRisk(context.Background(), testContext())
	if err != nil {
		t.Fatalf("AssessRisk with fences: %v", err)
	}
	if a.RiskLevel != model.RiskOrange {
		t.Fatalf("assessment = %+v", a)
	}
}

func TestAssessRisk_ReasksOnSchemaFailure(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"risk_level":"Purple"}`, // invalid enum
		goodJSON,
	}}
	c := NewClient(chat, WithRetryPolicy(fastPolicy()))

	a, err := c.AssessRisk(context.Background(), testContext())
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}
	if a.RiskLevel != model.RiskOrange {
		t.Fatalf("assessment = %+v", a)
	}
	if chat.calls != 2 {
		t.Fatalf("calls = %d, want 2 (one re-ask)", chat.calls)
	}
	if !strings.Contains(chat.prompts[1], "Return ONLY the JSON object") {
		t.Fatal("re-ask prompt missing the JSON-only nudge")
	}
}

func TestAssessRisk_BadOutputAfterParseRetries(t *testing.T) {
	chat := &scriptedChat{responses: []string{"not json at all"}}
	c := NewClient(chat, WithRetryPolicy(fastPolicy()), WithParseRetries(2))

	_, err := c.AssessRisk(context.Background(), testContext())
	if !errs.IsKind(err, errs.KindLLMBadOutput) {
		t.Fatalf("err = %v, want LLMBadOutput", err)
	}
	if chat.calls != 3 {
		t.Fatalf("calls = %d, want 3 (initial + 2 parse retries)", chat.calls)
	}
}

func TestAssessRisk_RetriesThrottling(t *testing.T) {
	throttle := errs.Errorf(errs.KindLLMThrottled, "llm.Chat", "429")
	chat := &scriptedChat{
		errs:      []error{throttle, throttle, nil},
		responses: []string{"", "", goodJSON},
	}
	c := NewClient(chat, WithRetryPolicy(fastPolicy()))

	a, err := c.AssessRisk(context.Background(), testContext())
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}
	if a.RiskLevel != model.RiskOrange {
		t.Fatalf("assessment = %+v", a)
	}
	if chat.calls != 3 {
		t.Fatalf("calls = %d, want 3", chat.calls)
	}
}

func TestAssessRisk_ThrottleExhaustion(t *testing.T) {
	throttle := errs.Errorf(errs.KindLLMThrottled, "llm.Chat", "429")
	errSeq := make([]error, 10)
	for i := range errSeq {
		errSeq[i] = throttle
	}
	chat := &scriptedChat{errs: errSeq, responses: []string{""}}
	c := NewClient(chat, WithRetryPolicy(fastPolicy()))

	_, err := c.AssessRisk(context.Background(), testContext())
	if !errs.IsKind(err, errs.KindLLMThrottled) {
		t.Fatalf("err = %v, want LLMThrottled after exhaustion", err)
	}
}

func TestParseAssessment_SchemaRules(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"bad level", strings.Replace(goodJSON, `"Orange"`, `"Purple"`, 1)},
		{"confidence above 1", strings.Replace(goodJSON, "0.82", "1.5", 1)},
		{"empty reasoning", strings.Replace(goodJSON,
			`"Moisture exceeds the site threshold and three sensors agree."`, `""`, 1)},
		{"bad action", strings.Replace(goodJSON, `"Prepare evacuation"`, `"Run away"`, 1)},
		{"bad ttf", strings.Replace(goodJSON, `"days"`, `"weeks"`, 1)},
	}
	for _, c := range cases {
		if _, err := parseAssessment(c.json); err == nil {
			t.Errorf("%s: parseAssessment accepted invalid payload", c.name)
		}
	}
}

func TestGenerateNarrative(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		"URGENT LANDSLIDE WARNING - Badulla\n\nSITUATION: ...",
	}}
	c := NewClient(chat, WithRetryPolicy(fastPolicy()))

	a := model.Assessment{
		RiskLevel: model.RiskRed, Confidence: 0.9,
		Reasoning: "r", TimeToFailure: "hours",
	}
	out, err := c.GenerateNarrative(context.Background(), a, "Badulla District")
	if err != nil {
		t.Fatalf("GenerateNarrative: %v", err)
	}
	if !strings.Contains(out, "URGENT LANDSLIDE WARNING") {
		t.Fatalf("narrative = %q", out)
	}
	if !strings.Contains(chat.prompts[0], "Badulla District") {
		t.Fatal("narrative prompt missing location")
	}
}

func TestGenerateNarrative_EmptyIsBadOutput(t *testing.T) {
	chat := &scriptedChat{responses: []string{"   "}}
	c := NewClient(chat, WithRetryPolicy(fastPolicy()))

	_, err := c.GenerateNarrative(context.Background(), model.Assessment{
		RiskLevel: model.RiskOrange, TimeToFailure: "days", Reasoning: "r",
	}, "somewhere")
	if !errs.IsKind(err, errs.KindLLMBadOutput) {
		t.Fatalf("err = %v, want LLMBadOutput", err)
	}
}
