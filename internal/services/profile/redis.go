package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/vox-ai-tgbot-go/internal/config"
	"github.com/vox-ai-tgbot-go/internal/models"
)

const profileKeyPrefix = "profile:"

// RedisStorage implements Storage on Redis, one JSON value per user
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisStorage connects to Redis and verifies the connection
func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{client: client, logger: logger}, nil
}

func profileKey(userID int64) string {
	return profileKeyPrefix + strconv.FormatInt(userID, 10)
}

func (r *RedisStorage) GetUser(ctx context.Context, userID int64) (*models.UserProfile, error) {
	data, err := r.client.Get(ctx, profileKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user %d: %v", models.ErrStorage, userID, err)
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, fmt.Errorf("%w: decode user %d: %v", models.ErrStorage, userID, err)
	}
	return &profile, nil
}

func (r *RedisStorage) UpsertUser(ctx context.Context, profile *models.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("%w: encode user %d: %v", models.ErrStorage, profile.UserID, err)
	}
	if err := r.client.Set(ctx, profileKey(profile.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: upsert user %d: %v", models.ErrStorage, profile.UserID, err)
	}
	return nil
}

// SetFlag does a read-modify-write of the stored value. Per-user mutations
// are serialized upstream, so the window is not observable in practice.
func (r *RedisStorage) SetFlag(ctx context.Context, userID int64, flag models.TrustFlag, value bool) error {
	profile, err := r.GetUser(ctx, userID)
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

	return r.UpsertUser(ctx, profile)
}

func (r *RedisStorage) ListUsers(ctx context.Context) ([]int64, error) {
	keys, err := r.client.Keys(ctx, profileKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", models.ErrStorage, err)
	}

	ids := make([]int64, 0, len(keys))
	for _, key := range keys {
		id, err := strconv.ParseInt(strings.TrimPrefix(key, profileKeyPrefix), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *RedisStorage) ListAdmins(ctx context.Context) ([]int64, error) {
	ids, err := r.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	admins := make([]int64, 0)
	for _, id := range ids {
		profile, err := r.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if profile != nil && profile.IsAdmin {
			admins = append(admins, id)
		}
	}
	return admins, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
