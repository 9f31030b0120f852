package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yunzhen-health/tcm-advisor/internal/clients/moonshot"
	"github.com/yunzhen-health/tcm-advisor/internal/interpret"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/apierr"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
	"github.com/yunzhen-health/tcm-advisor/internal/repos"
	"github.com/yunzhen-health/tcm-advisor/internal/types"
)

// CannotAnswerFallback is returned by AskQuestion when the endpoint answers
// with empty content.
const CannotAnswerFallback = "抱歉，我无法回答这个问题。"

type KnowledgeSearchParams struct {
	Query    string
	Category string // "" or "all" means every category
	Page     int
	Size     int
}

type KnowledgeSearchResult struct {
	Items []types.KnowledgeItem
	Total int
}

// AdvisoryService orchestrates prompt construction, the outbound chat call
// and response interpretation. It holds no record state and never retries;
// classified endpoint errors propagate to the caller unchanged.
type AdvisoryService interface {
	Diagnose(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResult, error)
	Prescribe(ctx context.Context, diagnosis string, syndromeType string, info types.PatientInfo) (*types.PrescriptionResult, error)
	AskQuestion(ctx context.Context, question string) (string, error)

	SearchKnowledge(ctx context.Context, params KnowledgeSearchParams) (*KnowledgeSearchResult, error)
	KnowledgeDetail(ctx context.Context, id string) (*types.KnowledgeItem, error)
	LikeKnowledge(ctx context.Context, id string) error
	RecommendedKnowledge(ctx context.Context, category string, limit int, excludeIDs []string) ([]types.KnowledgeItem, error)
	HotKnowledge(ctx context.Context, category string, limit int) ([]types.KnowledgeItem, error)
}

type advisoryService struct {
	log      *logger.Logger
	ai       moonshot.Client
	callLog  repos.AICallLogRepo // optional; nil disables call logging
	profiles promptProfiles
	now      func() time.Time
}

func NewAdvisoryService(log *logger.Logger, ai moonshot.Client, callLog repos.AICallLogRepo) (AdvisoryService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ai == nil {
		return nil, fmt.Errorf("ai client required")
	}
	profiles, err := loadPromptProfiles()
	if err != nil {
		return nil, err
	}
	return &advisoryService{
		log:      log.With("service", "AdvisoryService"),
		ai:       ai,
		callLog:  callLog,
		profiles: profiles,
		now:      time.Now,
	}, nil
}

func (s *advisoryService) Diagnose(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResult, error) {
	text, err := s.complete(ctx, "diagnose", diagnoseSystemPrompt, buildDiagnoseUserPrompt(req), s.profiles.Diagnose)
	if err != nil {
		return nil, err
	}
	result := interpret.ParseDiagnosis(text, s.now())
	return &result, nil
}

func (s *advisoryService) Prescribe(ctx context.Context, diagnosis string, syndromeType string, info types.PatientInfo) (*types.PrescriptionResult, error) {
	user := buildPrescribeUserPrompt(diagnosis, syndromeType, info)
	text, err := s.complete(ctx, "prescribe", prescribeSystemPrompt, user, s.profiles.Prescribe)
	if err != nil {
		return nil, err
	}
	result := interpret.ParsePrescription(text, s.now())
	return &result, nil
}

func (s *advisoryService) AskQuestion(ctx context.Context, question string) (string, error) {
	text, err := s.complete(ctx, "question", questionSystemPrompt, question, s.profiles.Question)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return CannotAnswerFallback, nil
	}
	return text, nil
}

// complete performs one chat round trip and records it to the call log.
func (s *advisoryService) complete(ctx context.Context, operation string, system string, user string, profile generationProfile) (string, error) {
	started := time.Now()
	text, err := s.ai.ChatCompletion(ctx, []moonshot.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, moonshot.ChatOptions{
		MaxTokens:   profile.MaxTokens,
		Temperature: profile.Temperature,
	})

	s.recordCall(ctx, operation, started, err)

	if err != nil {
		s.log.Warn("Advisory call failed", "operation", operation, "error", err)
		return "", err
	}
	return text, nil
}

func (s *advisoryService) recordCall(ctx context.Context, operation string, started time.Time, callErr error) {
	if s.callLog == nil {
		return
	}
	status := "ok"
	if callErr != nil {
		status = apierr.CodeOf(callErr)
		if status == "" {
			status = "error"
		}
	}
	_, err := s.callLog.Create(ctx, nil, []*types.AICallLog{{
		Operation: operation,
		Model:     s.ai.Model(),
		Status:    status,
		LatencyMS: time.Since(started).Milliseconds(),
	}})
	if err != nil {
		s.log.Warn("Failed to record AI call", "operation", operation, "error", err)
	}
}

// ---------------- Knowledge capability ----------------

type knowledgeItemsPayload struct {
	Items []types.KnowledgeItem `json:"items"`
	Total int                   `json:"total"`
}

func (s *advisoryService) SearchKnowledge(ctx context.Context, params KnowledgeSearchParams) (*KnowledgeSearchResult, error) {
	page := params.Page
	if page <= 0 {
		page = 1
	}
	size := params.Size
	if size <= 0 {
		size = 12
	}
	category := strings.TrimSpace(params.Category)
	if category == "" {
		category = types.KnowledgeCategoryAll
	}

	user := fmt.Sprintf("检索条件：关键词=%q 分类=%s 页码=%d 每页=%d", params.Query, category, page, size)
	payload, err := s.completeKnowledge(ctx, user)
	if err != nil {
		return nil, err
	}
	return &KnowledgeSearchResult{Items: payload.Items, Total: payload.Total}, nil
}

func (s *advisoryService) KnowledgeDetail(ctx context.Context, id string) (*types.KnowledgeItem, error) {
	user := fmt.Sprintf("返回id=%q 的单个知识条目的完整内容，items只含这一条。", id)
	payload, err := s.completeKnowledge(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(payload.Items) == 0 {
		return nil, apierr.Newf(apierr.CodeNotFound, 0, "知识条目不存在: %s", id)
	}
	item := payload.Items[0]
	return &item, nil
}

// LikeKnowledge registers a like with the endpoint. The item must exist; the
// caller only mutates its own counters after this returns nil.
func (s *advisoryService) LikeKnowledge(ctx context.Context, id string) error {
	user := fmt.Sprintf("为id=%q 的知识条目点赞，返回该条目点赞后的最新数据，items只含这一条。", id)
	payload, err := s.completeKnowledge(ctx, user)
	if err != nil {
		return err
	}
	if len(payload.Items) == 0 {
		return apierr.Newf(apierr.CodeNotFound, 0, "知识条目不存在: %s", id)
	}
	return nil
}

func (s *advisoryService) RecommendedKnowledge(ctx context.Context, category string, limit int, excludeIDs []string) ([]types.KnowledgeItem, error) {
	if limit <= 0 {
		limit = 6
	}
	user := fmt.Sprintf("推荐%d条知识条目，分类=%s，排除id：%s", limit, orAll(category), strings.Join(excludeIDs, ","))
	payload, err := s.completeKnowledge(ctx, user)
	if err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (s *advisoryService) HotKnowledge(ctx context.Context, category string, limit int) ([]types.KnowledgeItem, error) {
	if limit <= 0 {
		limit = 10
	}
	user := fmt.Sprintf("按热度返回%d条知识条目，分类=%s，按likes降序。", limit, orAll(category))
	payload, err := s.completeKnowledge(ctx, user)
	if err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (s *advisoryService) completeKnowledge(ctx context.Context, user string) (*knowledgeItemsPayload, error) {
	text, err := s.complete(ctx, "knowledge", knowledgeSystemPrompt, user, s.profiles.Knowledge)
	if err != nil {
		return nil, err
	}

	clean := sanitizeJSONText(text)
	var payload knowledgeItemsPayload
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return nil, apierr.Newf(apierr.CodeUnavailable, 0, "AI服务暂时不可用: 知识数据格式错误: %v", err)
	}
	if payload.Total < len(payload.Items) {
		payload.Total = len(payload.Items)
	}
	return &payload, nil
}

func orAll(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return types.KnowledgeCategoryAll
	}
	return category
}

// sanitizeJSONText strips a markdown code fence the model may wrap its JSON in.
func sanitizeJSONText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	firstNL := strings.IndexByte(s, '\n')
	if firstNL == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[firstNL+1:]
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
