package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vox-ai-tgbot-go/internal/dispatch"
	"github.com/vox-ai-tgbot-go/internal/models"
	"github.com/vox-ai-tgbot-go/internal/services/profile"
	"github.com/vox-ai-tgbot-go/internal/session"
)

func newTestCommandHandler(t *testing.T) (*CommandHandler, *profile.Store) {
	t.Helper()
	cfg := handlerConfig(20)
	log := testLogger()
	store := profile.NewStore(profile.NewMemoryStorage(log), cfg, nil, log)
	h := &CommandHandler{
		config:     cfg,
		profiles:   store,
		sessions:   session.NewManager(time.Minute, log),
		dispatcher: dispatch.NewDispatcher(context.Background(), log),
		logger:     log,
	}
	return h, store
}

func TestScheduleUpdateSerializesWithPendingJobs(t *testing.T) {
	h, store := newTestCommandHandler(t)
	ctx := context.Background()

	_, err := store.CreateDefault(ctx, 1, "")
	require.NoError(t, err)

	// A pending job that, like an exchange, writes the whole row from a
	// snapshot taken when it started
	started := make(chan struct{})
	release := make(chan struct{})
	h.dispatcher.Schedule(1, func(jobCtx context.Context) error {
		p, err := h.profiles.Get(jobCtx, 1)
		if err != nil {
			return err
		}
		close(started)
		<-release
		p.MessageHistory = append(p.MessageHistory,
			models.Message{Role: "user", Content: "hi"},
			models.Message{Role: "assistant", Content: "hello"},
		)
		return h.profiles.Update(jobCtx, p)
	}, nil)
	<-started

	// A keyboard setting change arrives while that job holds its snapshot
	confirmed := false
	h.scheduleUpdate(1, 1, "en", func(p *models.UserProfile) {
		p.Language = "ru"
	}, func() error {
		confirmed = true
		return nil
	})

	close(release)
	h.dispatcher.Wait()

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ru", got.Language, "setting must land after the pending job's upsert")
	assert.Len(t, got.MessageHistory, 2, "the pending job's write must survive too")
	assert.True(t, confirmed)
}

func TestScheduleUpdateAppliesMutation(t *testing.T) {
	h, store := newTestCommandHandler(t)
	ctx := context.Background()

	_, err := store.CreateDefault(ctx, 1, "")
	require.NoError(t, err)

	h.scheduleUpdate(1, 1, "en", func(p *models.UserProfile) {
		p.MessageHistory = []models.Message{}
		p.Speaker = "echo"
	}, func() error { return nil })
	h.dispatcher.Wait()

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Speaker)
	assert.Empty(t, got.MessageHistory)
}

func TestFormatHistory(t *testing.T) {
	out := formatHistory([]models.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	assert.Equal(t, "User: hi\n\nAssistant: hello\n\n", out)
}
