package profile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/vox-ai-tgbot-go/internal/config"
	"github.com/vox-ai-tgbot-go/internal/models"
)

// CacheMetrics records cache effectiveness. Satisfied by middleware.Metrics.
type CacheMetrics interface {
	RecordProfileCacheHit()
	RecordProfileCacheMiss()
}

// Store is the cache-fronted profile store. Durable storage is the source of
// truth; the cache is a read-through/write-through view bounded by its TTL
// and is never ahead of storage.
type Store struct {
	storage    Storage
	cache      *cache.Cache
	ttl        time.Duration
	maxHistory int
	defaults   config.DefaultsConfig
	metrics    CacheMetrics
	logger     *logrus.Logger
}

// NewStore creates a profile store over the given durable backend
func NewStore(storage Storage, cfg *config.Config, metrics CacheMetrics, logger *logrus.Logger) *Store {
	return &Store{
		storage:    storage,
		cache:      cache.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval),
		ttl:        cfg.Cache.TTL,
		maxHistory: cfg.History.MaxMessages,
		defaults:   cfg.Defaults,
		metrics:    metrics,
		logger:     logger,
	}
}

func cacheKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Get returns the user's profile, consulting the cache first. A miss or
// expired entry falls through to durable storage and repopulates the cache
// with a fresh expiry. A true absence returns ErrNotFound and caches nothing.
func (s *Store) Get(ctx context.Context, userID int64) (*models.UserProfile, error) {
	key := cacheKey(userID)

	if v, found := s.cache.Get(key); found {
		if s.metrics != nil {
			s.metrics.RecordProfileCacheHit()
		}
		return v.(*models.UserProfile).Clone(), nil
	}
	if s.metrics != nil {
		s.metrics.RecordProfileCacheMiss()
	}

	profile, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: user %d", models.ErrNotFound, userID)
	}

	s.cache.Set(key, profile.Clone(), s.ttl)
	return profile, nil
}

// CreateDefault creates and persists a profile seeded from configuration
func (s *Store) CreateDefault(ctx context.Context, userID int64, userName string) (*models.UserProfile, error) {
	profile := &models.UserProfile{
		UserID:         userID,
		UserName:       userName,
		MessageHistory: []models.Message{},
		Model:          s.defaults.Model,
		SystemPrompt:   s.defaults.SystemPrompt,
		Temperature:    s.defaults.Temperature,
		TopP:           s.defaults.TopP,
		MaxTokens:      s.defaults.MaxTokens,
		Language:       s.defaults.Language,
		Speaker:        s.defaults.Speaker,
		LastRequest:    time.Now(),
	}

	if err := s.Update(ctx, profile); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", userID).Info("Created default profile")
	return profile, nil
}

// Update validates and persists the profile, then replaces the cache entry
// with the exact value that was written. Conversation memory is truncated to
// the configured maximum before the durable write, so cache and storage hold
// the same truncated value. Writes go to storage first: a crash between the
// two steps leaves the cache stale, never ahead.
func (s *Store) Update(ctx context.Context, profile *models.UserProfile) error {
	if err := Validate(profile); err != nil {
		return err
	}

	if s.maxHistory > 0 && len(profile.MessageHistory) > s.maxHistory {
		profile.MessageHistory = profile.MessageHistory[len(profile.MessageHistory)-s.maxHistory:]
	}

	if err := s.storage.UpsertUser(ctx, profile); err != nil {
		// Cache left untouched so it cannot diverge from storage
		return err
	}

	s.cache.Set(cacheKey(profile.UserID), profile.Clone(), s.ttl)
	return nil
}

// SetTrustFlag performs a targeted durable update and invalidates the cache
// entry instead of patching it, forcing the next Get to reconcile with
// storage.
func (s *Store) SetTrustFlag(ctx context.Context, userID int64, flag models.TrustFlag, value bool) error {
	if err := s.storage.SetFlag(ctx, userID, flag, value); err != nil {
		return err
	}

	s.cache.Delete(cacheKey(userID))

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"flag":    flag,
		"value":   value,
	}).Info("Trust flag updated")
	return nil
}

// ListAll returns every known user id
func (s *Store) ListAll(ctx context.Context) ([]int64, error) {
	return s.storage.ListUsers(ctx)
}

// ListAdmins returns the ids of users with the admin flag set
func (s *Store) ListAdmins(ctx context.Context) ([]int64, error) {
	return s.storage.ListAdmins(ctx)
}

// Invalidate drops the cache entry for a user
func (s *Store) Invalidate(userID int64) {
	s.cache.Delete(cacheKey(userID))
}

// Validate checks that generation parameters are inside their valid ranges
func Validate(p *models.UserProfile) error {
	if p.Model == "" {
		return fmt.Errorf("%w: model must not be empty", models.ErrValidation)
	}
	if p.Temperature < 0 || p.Temperature > 1 {
		return fmt.Errorf("%w: temperature %v out of range [0,1]", models.ErrValidation, p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("%w: top_p %v out of range [0,1]", models.ErrValidation, p.TopP)
	}
	if p.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens %d must be positive", models.ErrValidation, p.MaxTokens)
	}
	return nil
}
