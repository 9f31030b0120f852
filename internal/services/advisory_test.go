package services

import (
	"context"
	"strings"
	"testing"

	"github.com/yunzhen-health/tcm-advisor/internal/clients/moonshot"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/apierr"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
	"github.com/yunzhen-health/tcm-advisor/internal/types"
)

type fakeAIClient struct {
	calls    int
	messages []moonshot.Message
	opts     moonshot.ChatOptions
	reply    string
	err      error
}

func (f *fakeAIClient) ChatCompletion(ctx context.Context, messages []moonshot.Message, opts moonshot.ChatOptions) (string, error) {
	f.calls++
	f.messages = messages
	f.opts = opts
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeAIClient) Model() string { return "kimi-test" }

func newTestAdvisory(t *testing.T, ai moonshot.Client) AdvisoryService {
	t.Helper()
	svc, err := NewAdvisoryService(logger.NewNop(), ai, nil)
	if err != nil {
		t.Fatalf("NewAdvisoryService: %v", err)
	}
	return svc
}

func TestDiagnoseUsesDiagnosisProfileAndPrompts(t *testing.T) {
	ai := &fakeAIClient{reply: "肝气郁结\n\n证型：肝气郁结\n治则：疏肝理气"}
	svc := newTestAdvisory(t, ai)

	result, err := svc.Diagnose(context.Background(), types.DiagnosisRequest{
		Symptoms:    "胸闷胁痛",
		PatientInfo: types.PatientInfo{Age: 42, Gender: "female"},
	})
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}

	if ai.opts.Temperature != 0.7 || ai.opts.MaxTokens != 2000 {
		t.Fatalf("unexpected generation options: %+v", ai.opts)
	}
	if len(ai.messages) != 2 || ai.messages[0].Role != "system" || ai.messages[1].Role != "user" {
		t.Fatalf("unexpected message shape: %+v", ai.messages)
	}
	if !strings.Contains(ai.messages[1].Content, "胸闷胁痛") {
		t.Fatalf("user prompt missing symptoms: %q", ai.messages[1].Content)
	}

	if result.SyndromeType != "肝气郁结" {
		t.Fatalf("SyndromeType = %q", result.SyndromeType)
	}
	if result.TreatmentPrinciple != "疏肝理气" {
		t.Fatalf("TreatmentPrinciple = %q", result.TreatmentPrinciple)
	}
	if result.Confidence != 0.8 {
		t.Fatalf("Confidence = %v", result.Confidence)
	}
}

func TestDiagnosePromptFillsMissingOptionals(t *testing.T) {
	ai := &fakeAIClient{reply: "结果"}
	svc := newTestAdvisory(t, ai)

	_, err := svc.Diagnose(context.Background(), types.DiagnosisRequest{
		Symptoms:    "头痛",
		PatientInfo: types.PatientInfo{Age: 30, Gender: "male"},
	})
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}

	prompt := ai.messages[1].Content
	if !strings.Contains(prompt, "无") {
		t.Fatalf("expected 无 placeholders in prompt: %q", prompt)
	}
	if !strings.Contains(prompt, "未提供") {
		t.Fatalf("expected 未提供 placeholders in prompt: %q", prompt)
	}
}

func TestDiagnoseEndpointErrorSkipsInterpretation(t *testing.T) {
	ai := &fakeAIClient{err: apierr.Newf(apierr.CodeRateLimited, 429, "请求过于频繁，请稍后再试")}
	svc := newTestAdvisory(t, ai)

	result, err := svc.Diagnose(context.Background(), types.DiagnosisRequest{
		Symptoms:    "咳嗽",
		PatientInfo: types.PatientInfo{Age: 25, Gender: "female"},
	})
	if result != nil {
		t.Fatalf("expected no result on endpoint failure, got %+v", result)
	}
	if !apierr.IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestPrescribeUsesPrescriptionProfile(t *testing.T) {
	ai := &fakeAIClient{reply: "柴胡 10g 白芍 12g"}
	svc := newTestAdvisory(t, ai)

	result, err := svc.Prescribe(context.Background(), "肝气郁结", "肝气郁结", types.PatientInfo{Age: 42, Gender: "female"})
	if err != nil {
		t.Fatalf("Prescribe: %v", err)
	}
	if ai.opts.Temperature != 0.5 || ai.opts.MaxTokens != 1500 {
		t.Fatalf("unexpected generation options: %+v", ai.opts)
	}
	if !strings.Contains(ai.messages[1].Content, "肝气郁结") {
		t.Fatalf("user prompt missing diagnosis: %q", ai.messages[1].Content)
	}
	if len(result.MainHerbs) != 2 {
		t.Fatalf("MainHerbs = %v", result.MainHerbs)
	}
}

func TestAskQuestionReturnsTrimmedAnswer(t *testing.T) {
	ai := &fakeAIClient{reply: "可以适量饮用菊花茶。"}
	svc := newTestAdvisory(t, ai)

	answer, err := svc.AskQuestion(context.Background(), "菊花茶适合什么体质？")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if answer != "可以适量饮用菊花茶。" {
		t.Fatalf("answer = %q", answer)
	}
	if ai.opts.Temperature != 0.3 || ai.opts.MaxTokens != 1000 {
		t.Fatalf("unexpected generation options: %+v", ai.opts)
	}
}

func TestAskQuestionEmptyAnswerFallsBack(t *testing.T) {
	ai := &fakeAIClient{reply: "   \n"}
	svc := newTestAdvisory(t, ai)

	answer, err := svc.AskQuestion(context.Background(), "如何养生？")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if answer != CannotAnswerFallback {
		t.Fatalf("answer = %q, want fallback", answer)
	}
}

func TestSearchKnowledgeParsesGuidedJSON(t *testing.T) {
	ai := &fakeAIClient{reply: "```json\n{\"items\":[{\"id\":\"k1\",\"category\":\"theory\",\"title\":\"阴阳学说\",\"content\":\"...\",\"likes\":3}],\"total\":40}\n```"}
	svc := newTestAdvisory(t, ai)

	result, err := svc.SearchKnowledge(context.Background(), KnowledgeSearchParams{Query: "阴阳"})
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ID != "k1" {
		t.Fatalf("items = %+v", result.Items)
	}
	if result.Total != 40 {
		t.Fatalf("total = %d", result.Total)
	}
	if ai.opts.Temperature != 0.2 || ai.opts.MaxTokens != 1200 {
		t.Fatalf("unexpected generation options: %+v", ai.opts)
	}
}

func TestSearchKnowledgeMalformedPayload(t *testing.T) {
	ai := &fakeAIClient{reply: "这不是JSON"}
	svc := newTestAdvisory(t, ai)

	_, err := svc.SearchKnowledge(context.Background(), KnowledgeSearchParams{Query: "阴阳"})
	if apierr.CodeOf(err) != apierr.CodeUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestLikeKnowledgeAcknowledged(t *testing.T) {
	ai := &fakeAIClient{reply: `{"items":[{"id":"k1","category":"theory","title":"阴阳学说","content":"...","likes":4}],"total":1}`}
	svc := newTestAdvisory(t, ai)

	if err := svc.LikeKnowledge(context.Background(), "k1"); err != nil {
		t.Fatalf("LikeKnowledge: %v", err)
	}
	if !strings.Contains(ai.messages[1].Content, "k1") {
		t.Fatalf("user prompt missing item id: %q", ai.messages[1].Content)
	}
}

func TestLikeKnowledgeUnknownIDIsNotFound(t *testing.T) {
	ai := &fakeAIClient{reply: `{"items":[],"total":0}`}
	svc := newTestAdvisory(t, ai)

	if err := svc.LikeKnowledge(context.Background(), "missing"); !apierr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestKnowledgeDetailEmptyIsNotFound(t *testing.T) {
	ai := &fakeAIClient{reply: `{"items":[],"total":0}`}
	svc := newTestAdvisory(t, ai)

	_, err := svc.KnowledgeDetail(context.Background(), "missing")
	if !apierr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSanitizeJSONText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"padded", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeJSONText(tc.in); got != tc.want {
				t.Fatalf("sanitizeJSONText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
