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

// Preference keys. Each preference lives under its own key so a single
// change never rewrites the others.
const (
	LanguageKey      = "language"
	ThemeKey         = "theme"
	SidebarKey       = "sidebarCollapsed"
	NotificationsKey = "notifications"
	UserProfileKey   = "userProfile"
)

const (
	DefaultLanguage = "zh-CN"
	DefaultTheme    = "light"
)

// PreferencesStore holds user settings in memory and writes each change
// through to the key-value store under its own key.
type PreferencesStore interface {
	Initialize(ctx context.Context) error

	Language() string
	Theme() string
	DarkMode() bool
	SidebarCollapsed() bool
	Notifications() bool
	UserProfile() *types.UserProfile

	SetLanguage(ctx context.Context, language string)
	SetTheme(ctx context.Context, theme string)
	SetDarkMode(ctx context.Context, dark bool)
	ToggleSidebar(ctx context.Context)
	ToggleNotifications(ctx context.Context)
	SetUserProfile(ctx context.Context, profile *types.UserProfile)

	Reset(ctx context.Context) error
}

type preferencesStore struct {
	log   *logger.Logger
	store kv.Store

	mu               sync.RWMutex
	language         string
	theme            string
	sidebarCollapsed bool
	notifications    bool
	userProfile      *types.UserProfile
}

func NewPreferencesStore(log *logger.Logger, store kv.Store) (PreferencesStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	return &preferencesStore{
		log:           log.With("service", "PreferencesStore"),
		store:         store,
		language:      DefaultLanguage,
		theme:         DefaultTheme,
		notifications: true,
	}, nil
}

// Initialize loads each preference from the store. A missing key keeps the
// default; a malformed value is logged and the default kept.
func (s *preferencesStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw, ok := s.load(ctx, LanguageKey); ok {
		s.language = raw
	}
	if raw, ok := s.load(ctx, ThemeKey); ok {
		s.theme = raw
	}
	if raw, ok := s.load(ctx, SidebarKey); ok {
		s.sidebarCollapsed = raw == "true"
	}
	if raw, ok := s.load(ctx, NotificationsKey); ok {
		s.notifications = raw != "false"
	}
	if raw, ok := s.load(ctx, UserProfileKey); ok {
		var profile types.UserProfile
		if err := json.Unmarshal([]byte(raw), &profile); err != nil {
			s.log.Warn("Persisted user profile is malformed, using default", "error", err)
		} else {
			s.userProfile = &profile
		}
	}
	return nil
}

func (s *preferencesStore) load(ctx context.Context, key string) (string, bool) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn("Failed to load preference", "key", key, "error", err)
		}
		return "", false
	}
	return raw, true
}

func (s *preferencesStore) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

func (s *preferencesStore) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// DarkMode reports whether the current theme renders dark. The "auto" theme
// has no ambient signal here and renders light.
func (s *preferencesStore) DarkMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme == "dark"
}

func (s *preferencesStore) SidebarCollapsed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sidebarCollapsed
}

func (s *preferencesStore) Notifications() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notifications
}

func (s *preferencesStore) UserProfile() *types.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userProfile == nil {
		return nil
	}
	profile := *s.userProfile
	return &profile
}

func (s *preferencesStore) SetLanguage(ctx context.Context, language string) {
	s.mu.Lock()
	s.language = language
	s.mu.Unlock()
	s.persist(ctx, LanguageKey, language)
}

func (s *preferencesStore) SetTheme(ctx context.Context, theme string) {
	s.mu.Lock()
	s.theme = theme
	s.mu.Unlock()
	s.persist(ctx, ThemeKey, theme)
}

func (s *preferencesStore) SetDarkMode(ctx context.Context, dark bool) {
	theme := DefaultTheme
	if dark {
		theme = "dark"
	}
	s.SetTheme(ctx, theme)
}

func (s *preferencesStore) ToggleSidebar(ctx context.Context) {
	s.mu.Lock()
	s.sidebarCollapsed = !s.sidebarCollapsed
	collapsed := s.sidebarCollapsed
	s.mu.Unlock()
	s.persist(ctx, SidebarKey, fmt.Sprintf("%t", collapsed))
}

func (s *preferencesStore) ToggleNotifications(ctx context.Context) {
	s.mu.Lock()
	s.notifications = !s.notifications
	enabled := s.notifications
	s.mu.Unlock()
	s.persist(ctx, NotificationsKey, fmt.Sprintf("%t", enabled))
}

func (s *preferencesStore) SetUserProfile(ctx context.Context, profile *types.UserProfile) {
	s.mu.Lock()
	s.userProfile = profile
	s.mu.Unlock()
	if profile == nil {
		if err := s.store.Remove(ctx, UserProfileKey); err != nil {
			s.log.Warn("Failed to remove user profile", "error", err)
		}
		return
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		s.log.Error("Failed to marshal user profile", "error", err)
		return
	}
	s.persist(ctx, UserProfileKey, string(raw))
}

// Reset restores every preference to its default and clears the persisted
// copies.
func (s *preferencesStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.language = DefaultLanguage
	s.theme = DefaultTheme
	s.sidebarCollapsed = false
	s.notifications = true
	s.userProfile = nil
	s.mu.Unlock()

	var firstErr error
	for _, key := range []string{LanguageKey, ThemeKey, SidebarKey, NotificationsKey, UserProfileKey} {
		if err := s.store.Remove(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *preferencesStore) persist(ctx context.Context, key string, value string) {
	if err := s.store.Set(ctx, key, value); err != nil {
		s.log.Warn("Failed to persist preference", "key", key, "error", err)
	}
}
