package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/yunzhen-health/tcm-advisor/internal/kv"
	"github.com/yunzhen-health/tcm-advisor/internal/platform/logger"
	"github.com/yunzhen-health/tcm-advisor/internal/types"
)

// likedKnowledgeKey persists the set of liked item ids so the flag survives
// cache rebuilds.
const likedKnowledgeKey = "knowledgeLikes"

// KnowledgeStore is a thin paginated cache over the advisory knowledge
// capability. Each search replaces the cached items wholesale; the cache is
// rebuilt every session and never persisted (only likes are durable).
type KnowledgeStore interface {
	Search(ctx context.Context, query string, category string, page int, size int) (*KnowledgeSearchResult, error)
	LoadMore(ctx context.Context) error
	Detail(ctx context.Context, id string) (*types.KnowledgeItem, error)
	Like(ctx context.Context, id string) error
	Recommended(ctx context.Context, category string, limit int) ([]types.KnowledgeItem, error)
	Hot(ctx context.Context, category string, limit int) ([]types.KnowledgeItem, error)

	Items() []types.KnowledgeItem
	Total() int
	HasMore() bool
	Refresh(ctx context.Context) error
	ClearSearch()
	SetCategory(ctx context.Context, category string) error
	SetQuery(ctx context.Context, query string) error
}

type knowledgeStore struct {
	log      *logger.Logger
	advisory AdvisoryService
	store    kv.Store

	mu       sync.Mutex
	items    []types.KnowledgeItem
	total    int
	page     int
	size     int
	query    string
	category string
	loading  bool
}

func NewKnowledgeStore(log *logger.Logger, advisory AdvisoryService, store kv.Store) (KnowledgeStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if advisory == nil {
		return nil, fmt.Errorf("advisory service required")
	}
	if store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	return &knowledgeStore{
		log:      log.With("service", "KnowledgeStore"),
		advisory: advisory,
		store:    store,
		page:     1,
		size:     12,
		category: types.KnowledgeCategoryAll,
	}, nil
}

// Search replaces the cached item list and total wholesale. Concurrent
// searches are not serialized; the one that finishes last wins.
func (s *knowledgeStore) Search(ctx context.Context, query string, category string, page int, size int) (*KnowledgeSearchResult, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 12
	}
	if category == "" {
		category = types.KnowledgeCategoryAll
	}

	s.mu.Lock()
	s.loading = true
	s.query = query
	s.category = category
	s.page = page
	s.size = size
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	result, err := s.advisory.SearchKnowledge(ctx, KnowledgeSearchParams{
		Query:    query,
		Category: category,
		Page:     page,
		Size:     size,
	})
	if err != nil {
		return nil, err
	}

	liked := s.likedSet(ctx)
	items := make([]types.KnowledgeItem, len(result.Items))
	copy(items, result.Items)
	for i := range items {
		if liked[items[i].ID] {
			items[i].IsLiked = true
		}
	}

	s.mu.Lock()
	if page > 1 {
		s.items = append(s.items, items...)
	} else {
		s.items = items
	}
	s.total = result.Total
	s.mu.Unlock()

	return &KnowledgeSearchResult{Items: items, Total: result.Total}, nil
}

// LoadMore fetches the next page only when more items remain and no search
// is in flight.
func (s *knowledgeStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.loading || len(s.items) >= s.total {
		s.mu.Unlock()
		return nil
	}
	query, category, nextPage, size := s.query, s.category, s.page+1, s.size
	s.mu.Unlock()

	_, err := s.Search(ctx, query, category, nextPage, size)
	return err
}

// Detail fetches the full item and merges it into the cached entry, if any.
func (s *knowledgeStore) Detail(ctx context.Context, id string) (*types.KnowledgeItem, error) {
	detail, err := s.advisory.KnowledgeDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			liked := s.items[i].IsLiked
			s.items[i] = *detail
			if liked {
				s.items[i].IsLiked = true
			}
			break
		}
	}
	s.mu.Unlock()

	return detail, nil
}

// Like registers the like with the endpoint first, then records it durably;
// the cached counter moves only after both succeeded.
func (s *knowledgeStore) Like(ctx context.Context, id string) error {
	liked := s.likedSet(ctx)
	if liked[id] {
		return nil
	}
	if err := s.advisory.LikeKnowledge(ctx, id); err != nil {
		return err
	}
	liked[id] = true
	raw, err := json.Marshal(liked)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, likedKnowledgeKey, string(raw)); err != nil {
		return err
	}

	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Likes++
			s.items[i].IsLiked = true
			break
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *knowledgeStore) Recommended(ctx context.Context, category string, limit int) ([]types.KnowledgeItem, error) {
	s.mu.Lock()
	exclude := make([]string, 0, len(s.items))
	for _, item := range s.items {
		exclude = append(exclude, item.ID)
	}
	s.mu.Unlock()
	return s.advisory.RecommendedKnowledge(ctx, category, limit, exclude)
}

func (s *knowledgeStore) Hot(ctx context.Context, category string, limit int) ([]types.KnowledgeItem, error) {
	return s.advisory.HotKnowledge(ctx, category, limit)
}

func (s *knowledgeStore) Items() []types.KnowledgeItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.KnowledgeItem(nil), s.items...)
}

func (s *knowledgeStore) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *knowledgeStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) < s.total
}

func (s *knowledgeStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	query, category, page, size := s.query, s.category, s.page, s.size
	s.mu.Unlock()
	_, err := s.Search(ctx, query, category, page, size)
	return err
}

func (s *knowledgeStore) ClearSearch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = ""
	s.category = types.KnowledgeCategoryAll
	s.page = 1
	s.items = nil
	s.total = 0
}

func (s *knowledgeStore) SetCategory(ctx context.Context, category string) error {
	s.mu.Lock()
	query, size := s.query, s.size
	s.mu.Unlock()
	_, err := s.Search(ctx, query, category, 1, size)
	return err
}

func (s *knowledgeStore) SetQuery(ctx context.Context, query string) error {
	s.mu.Lock()
	category, size := s.category, s.size
	s.mu.Unlock()
	_, err := s.Search(ctx, query, category, 1, size)
	return err
}

func (s *knowledgeStore) likedSet(ctx context.Context) map[string]bool {
	liked := make(map[string]bool)
	raw, err := s.store.Get(ctx, likedKnowledgeKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn("Failed to load liked knowledge ids", "error", err)
		}
		return liked
	}
	if err := json.Unmarshal([]byte(raw), &liked); err != nil {
		s.log.Warn("Persisted liked knowledge ids are malformed", "error", err)
		return map[string]bool{}
	}
	return liked
}
