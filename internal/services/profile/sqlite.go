package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/vox-ai-tgbot-go/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// userRow is the relational layout of a profile. Conversation memory is
// stored as a JSON column.
type userRow struct {
	UserID         int64     `gorm:"column:user_id;primaryKey"`
	UserName       string    `gorm:"column:user_name"`
	MessageHistory string    `gorm:"column:message_history;type:text"`
	Model          string    `gorm:"column:model"`
	SystemPrompt   string    `gorm:"column:system_prompt;type:text"`
	Temperature    float64   `gorm:"column:temperature"`
	TopP           float64   `gorm:"column:top_p"`
	MaxTokens      int       `gorm:"column:max_tokens"`
	Language       string    `gorm:"column:language"`
	Speaker        string    `gorm:"column:speaker"`
	IsAdmin        bool      `gorm:"column:is_admin"`
	IsWhitelisted  bool      `gorm:"column:is_whitelisted"`
	IsBlacklisted  bool      `gorm:"column:is_blacklisted"`
	LastRequest    time.Time `gorm:"column:last_request"`
}

func (userRow) TableName() string { return "users" }

// SQLiteStorage implements Storage on an embedded sqlite database
type SQLiteStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewSQLiteStorage opens (and migrates) the database at path
func NewSQLiteStorage(path string, logger *logrus.Logger) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&userRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate users table: %w", err)
	}

	logger.WithField("path", path).Info("SQLite storage ready")

	return &SQLiteStorage{db: db, logger: logger}, nil
}

func (s *SQLiteStorage) GetUser(ctx context.Context, userID int64) (*models.UserProfile, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user %d: %v", models.ErrStorage, userID, err)
	}
	return rowToProfile(&row)
}

func (s *SQLiteStorage) UpsertUser(ctx context.Context, profile *models.UserProfile) error {
	row, err := profileToRow(profile)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("%w: upsert user %d: %v", models.ErrStorage, profile.UserID, err)
	}
	return nil
}

func (s *SQLiteStorage) SetFlag(ctx context.Context, userID int64, flag models.TrustFlag, value bool) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).
		Where("user_id = ?", userID).
		Update(string(flag), value)
	if res.Error != nil {
		return fmt.Errorf("%w: set %s for user %d: %v", models.ErrStorage, flag, userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %d", models.ErrNotFound, userID)
	}
	return nil
}

func (s *SQLiteStorage) ListUsers(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&userRow{}).Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("%w: list users: %v", models.ErrStorage, err)
	}
	return ids, nil
}

func (s *SQLiteStorage) ListAdmins(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&userRow{}).
		Where("is_admin = ?", true).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list admins: %v", models.ErrStorage, err)
	}
	return ids, nil
}

func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowToProfile(row *userRow) (*models.UserProfile, error) {
	history := []models.Message{}
	if row.MessageHistory != "" {
		if err := json.Unmarshal([]byte(row.MessageHistory), &history); err != nil {
			return nil, fmt.Errorf("%w: decode history for user %d: %v", models.ErrStorage, row.UserID, err)
		}
	}
	return &models.UserProfile{
		UserID:         row.UserID,
		UserName:       row.UserName,
		MessageHistory: history,
		Model:          row.Model,
		SystemPrompt:   row.SystemPrompt,
		Temperature:    row.Temperature,
		TopP:           row.TopP,
		MaxTokens:      row.MaxTokens,
		Language:       row.Language,
		Speaker:        row.Speaker,
		IsAdmin:        row.IsAdmin,
		IsWhitelisted:  row.IsWhitelisted,
		IsBlacklisted:  row.IsBlacklisted,
		LastRequest:    row.LastRequest,
	}, nil
}

func profileToRow(p *models.UserProfile) (*userRow, error) {
	history, err := json.Marshal(p.MessageHistory)
	if err != nil {
		return nil, fmt.Errorf("%w: encode history for user %d: %v", models.ErrStorage, p.UserID, err)
	}
	return &userRow{
		UserID:         p.UserID,
		UserName:       p.UserName,
		MessageHistory: string(history),
		Model:          p.Model,
		SystemPrompt:   p.SystemPrompt,
		Temperature:    p.Temperature,
		TopP:           p.TopP,
		MaxTokens:      p.MaxTokens,
		Language:       p.Language,
		Speaker:        p.Speaker,
		IsAdmin:        p.IsAdmin,
		IsWhitelisted:  p.IsWhitelisted,
		IsBlacklisted:  p.IsBlacklisted,
		LastRequest:    p.LastRequest,
	}, nil
}
