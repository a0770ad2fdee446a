package profile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vox-ai-tgbot-go/internal/config"
	"github.com/vox-ai-tgbot-go/internal/models"
)

// Storage is the durable source of truth for user profiles. GetUser returns
// (nil, nil) when no row exists; callers translate that into ErrNotFound.
type Storage interface {
	GetUser(ctx context.Context, userID int64) (*models.UserProfile, error)
	UpsertUser(ctx context.Context, profile *models.UserProfile) error
	SetFlag(ctx context.Context, userID int64, flag models.TrustFlag, value bool) error
	ListUsers(ctx context.Context) ([]int64, error)
	ListAdmins(ctx context.Context) ([]int64, error)
	Close() error
}

// NewStorage creates the configured storage backend
func NewStorage(cfg *config.StorageConfig, logger *logrus.Logger) (Storage, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStorage(cfg.SQLite.Path, logger)
	case "redis":
		return NewRedisStorage(&cfg.Redis, logger)
	case "memory":
		return NewMemoryStorage(logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
