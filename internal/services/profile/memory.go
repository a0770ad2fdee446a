package profile

import (
	"context"
	"fmt"
	"strconv"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/vox-ai-tgbot-go/internal/models"
)

// MemoryStorage implements Storage in process memory. Useful for tests and
// single-node deployments that can afford to lose profiles on restart.
// Values are deep-copied on the way in and out so it behaves like a real
// durable store rather than sharing state with callers.
type MemoryStorage struct {
	users  *cache.Cache
	logger *logrus.Logger
}

// NewMemoryStorage creates an in-memory storage backend
func NewMemoryStorage(logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		users:  cache.New(cache.NoExpiration, cache.NoExpiration),
		logger: logger,
	}
}

func (m *MemoryStorage) GetUser(ctx context.Context, userID int64) (*models.UserProfile, error) {
	if v, found := m.users.Get(strconv.FormatInt(userID, 10)); found {
		return v.(*models.UserProfile).Clone(), nil
	}
	return nil, nil
}

func (m *MemoryStorage) UpsertUser(ctx context.Context, profile *models.UserProfile) error {
	m.users.Set(strconv.FormatInt(profile.UserID, 10), profile.Clone(), cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) SetFlag(ctx context.Context, userID int64, flag models.TrustFlag, value bool) error {
	profile, err := m.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("%w: user %d", models.ErrNotFound, userID)
	}

	switch flag {
	case models.FlagAdmin:
		profile.IsAdmin = value
	case models.FlagWhitelisted:
		profile.IsWhitelisted = value
	case models.FlagBlacklisted:
		profile.IsBlacklisted = value
	default:
		return fmt.Errorf("unknown trust flag: %s", flag)
	}

	return m.UpsertUser(ctx, profile)
}

func (m *MemoryStorage) ListUsers(ctx context.Context) ([]int64, error) {
	items := m.users.Items()
	ids := make([]int64, 0, len(items))
	for key := range items {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStorage) ListAdmins(ctx context.Context) ([]int64, error) {
	admins := make([]int64, 0)
	for _, item := range m.users.Items() {
		profile := item.Object.(*models.UserProfile)
		if profile.IsAdmin {
			admins = append(admins, profile.UserID)
		}
	}
	return admins, nil
}

func (m *MemoryStorage) Close() error {
	m.users.Flush()
	return nil
}
