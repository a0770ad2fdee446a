package profile

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vox-ai-tgbot-go/internal/config"
	"github.com/vox-ai-tgbot-go/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type countingMetrics struct {
	hits   int
	misses int
}

func (c *countingMetrics) RecordProfileCacheHit()  { c.hits++ }
func (c *countingMetrics) RecordProfileCacheMiss() { c.misses++ }

func testConfig(maxHistory int) *config.Config {
	return &config.Config{
		Defaults: config.DefaultsConfig{
			Model:        "test-model",
			SystemPrompt: "You are helpful.",
			Temperature:  0.7,
			TopP:         1.0,
			MaxTokens:    512,
			Language:     "en",
			Speaker:      "alloy",
		},
		History: config.HistoryConfig{MaxMessages: maxHistory},
		Cache: config.CacheConfig{
			TTL:             time.Minute,
			CleanupInterval: time.Minute,
		},
	}
}

func newTestStore(t *testing.T, maxHistory int) (*Store, Storage, *countingMetrics) {
	t.Helper()
	storage := NewMemoryStorage(testLogger())
	metrics := &countingMetrics{}
	return NewStore(storage, testConfig(maxHistory), metrics, testLogger()), storage, metrics
}

func TestGetUnknownUserReturnsNotFound(t *testing.T) {
	store, _, _ := newTestStore(t, 20)

	_, err := store.Get(context.Background(), 42)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Absence is not cached: a later create is visible immediately
	_, err = store.CreateDefault(context.Background(), 42, "alice")
	require.NoError(t, err)

	prof, err := store.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "test-model", prof.Model)
}

func TestCreateDefaultSeedsFromConfig(t *testing.T) {
	store, _, _ := newTestStore(t, 20)

	prof, err := store.CreateDefault(context.Background(), 7, "bob")
	require.NoError(t, err)

	assert.Equal(t, int64(7), prof.UserID)
	assert.Equal(t, "bob", prof.UserName)
	assert.Equal(t, "test-model", prof.Model)
	assert.Equal(t, 0.7, prof.Temperature)
	assert.Equal(t, 1.0, prof.TopP)
	assert.Equal(t, 512, prof.MaxTokens)
	assert.Empty(t, prof.MessageHistory)
	assert.False(t, prof.IsAdmin)
}

func TestGetAfterUpdateObservesWrite(t *testing.T) {
	store, _, _ := newTestStore(t, 20)
	ctx := context.Background()

	prof, err := store.CreateDefault(ctx, 1, "")
	require.NoError(t, err)

	prof.Temperature = 0.3
	prof.MessageHistory = append(prof.MessageHistory,
		models.Message{Role: "user", Content: "hi"},
		models.Message{Role: "assistant", Content: "hello"},
	)
	require.NoError(t, store.Update(ctx, prof))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.3, got.Temperature)
	assert.Equal(t, prof.MessageHistory, got.MessageHistory)
}

func TestUpdateTruncatesHistory(t *testing.T) {
	store, storage, _ := newTestStore(t, 4)
	ctx := context.Background()

	prof, err := store.CreateDefault(ctx, 1, "")
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		prof.MessageHistory = append(prof.MessageHistory, models.Message{
			Role:    "user",
			Content: fmt.Sprintf("msg-%d", i),
		})
	}
	require.NoError(t, store.Update(ctx, prof))

	// Cache and durable storage hold the same truncated suffix
	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got.MessageHistory, 4)
	assert.Equal(t, "msg-2", got.MessageHistory[0].Content)
	assert.Equal(t, "msg-5", got.MessageHistory[3].Content)

	durable, err := storage.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, got.MessageHistory, durable.MessageHistory)
}

func TestUpdateRejectsInvalidProfile(t *testing.T) {
	store, storage, _ := newTestStore(t, 20)
	ctx := context.Background()

	prof, err := store.CreateDefault(ctx, 1, "")
	require.NoError(t, err)

	prof.Temperature = 2.5
	err = store.Update(ctx, prof)
	assert.ErrorIs(t, err, models.ErrValidation)

	// Neither storage nor the cached view moved
	durable, err := storage.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.7, durable.Temperature)

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.7, got.Temperature)
}

func TestValidateBoundaries(t *testing.T) {
	base := func() *models.UserProfile {
		return &models.UserProfile{
			Model:       "m",
			Temperature: 0.5,
			TopP:        0.5,
			MaxTokens:   100,
		}
	}

	tests := []struct {
		name   string
		mutate func(*models.UserProfile)
		ok     bool
	}{
		{"valid midrange", func(p *models.UserProfile) {}, true},
		{"temperature lower bound", func(p *models.UserProfile) { p.Temperature = 0 }, true},
		{"temperature upper bound", func(p *models.UserProfile) { p.Temperature = 1 }, true},
		{"temperature below range", func(p *models.UserProfile) { p.Temperature = -0.01 }, false},
		{"temperature above range", func(p *models.UserProfile) { p.Temperature = 1.01 }, false},
		{"top_p lower bound", func(p *models.UserProfile) { p.TopP = 0 }, true},
		{"top_p above range", func(p *models.UserProfile) { p.TopP = 1.5 }, false},
		{"max_tokens zero", func(p *models.UserProfile) { p.MaxTokens = 0 }, false},
		{"max_tokens negative", func(p *models.UserProfile) { p.MaxTokens = -5 }, false},
		{"empty model", func(p *models.UserProfile) { p.Model = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			err := Validate(p)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrValidation)
			}
		})
	}
}

func TestSetTrustFlagInvalidatesCache(t *testing.T) {
	store, _, metrics := newTestStore(t, 20)
	ctx := context.Background()

	_, err := store.CreateDefault(ctx, 1, "")
	require.NoError(t, err)

	// Prime the cache
	_, err = store.Get(ctx, 1)
	require.NoError(t, err)
	missesBefore := metrics.misses

	require.NoError(t, store.SetTrustFlag(ctx, 1, models.FlagBlacklisted, true))

	// The next read must reconcile with storage and see the flag
	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.IsBlacklisted)
	assert.Equal(t, missesBefore+1, metrics.misses, "flag change must evict the cached entry")
}

func TestSetTrustFlagUnknownUser(t *testing.T) {
	store, _, _ := newTestStore(t, 20)

	err := store.SetTrustFlag(context.Background(), 99, models.FlagAdmin, true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCachedReadsHitAfterFirstMiss(t *testing.T) {
	store, _, metrics := newTestStore(t, 20)
	ctx := context.Background()

	_, err := store.CreateDefault(ctx, 1, "")
	require.NoError(t, err)

	_, err = store.Get(ctx, 1)
	require.NoError(t, err)
	_, err = store.Get(ctx, 1)
	require.NoError(t, err)

	// CreateDefault populates the cache via Update, so both reads hit
	assert.Equal(t, 2, metrics.hits)
}

func TestGetReturnsIndependentCopies(t *testing.T) {
	store, _, _ := newTestStore(t, 20)
	ctx := context.Background()

	_, err := store.CreateDefault(ctx, 1, "")
	require.NoError(t, err)

	a, err := store.Get(ctx, 1)
	require.NoError(t, err)
	a.Temperature = 0.01
	a.MessageHistory = append(a.MessageHistory, models.Message{Role: "user", Content: "mutated"})

	b, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.7, b.Temperature, "callers must not share state with the cache")
	assert.Empty(t, b.MessageHistory)
}

func TestListAllAndAdmins(t *testing.T) {
	store, _, _ := newTestStore(t, 20)
	ctx := context.Background()

	_, err := store.CreateDefault(ctx, 1, "")
	require.NoError(t, err)
	_, err = store.CreateDefault(ctx, 2, "")
	require.NoError(t, err)

	require.NoError(t, store.SetTrustFlag(ctx, 2, models.FlagAdmin, true))

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, all)

	admins, err := store.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, admins)
}
