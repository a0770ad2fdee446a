package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vox-ai-tgbot-go/internal/config"
	"github.com/vox-ai-tgbot-go/internal/models"
)

func TestHasAccessOpenMode(t *testing.T) {
	cfg := &config.BotConfig{AccessMode: "open"}

	assert.True(t, hasAccess(cfg, &models.UserProfile{UserID: 1}))
	assert.False(t, hasAccess(cfg, &models.UserProfile{UserID: 1, IsBlacklisted: true}))

	// The blacklist outranks everything, including admin status
	assert.False(t, hasAccess(cfg, &models.UserProfile{UserID: 1, IsAdmin: true, IsBlacklisted: true}))
}

func TestHasAccessWhitelistMode(t *testing.T) {
	cfg := &config.BotConfig{AccessMode: "whitelist", AdminUsers: []int64{9}}

	assert.False(t, hasAccess(cfg, &models.UserProfile{UserID: 1}))
	assert.True(t, hasAccess(cfg, &models.UserProfile{UserID: 1, IsWhitelisted: true}))
	assert.True(t, hasAccess(cfg, &models.UserProfile{UserID: 1, IsAdmin: true}))
	assert.True(t, hasAccess(cfg, &models.UserProfile{UserID: 9}))
	assert.False(t, hasAccess(cfg, &models.UserProfile{UserID: 9, IsBlacklisted: true}))
}

func TestIsAdmin(t *testing.T) {
	cfg := &config.BotConfig{AdminUsers: []int64{5}}

	assert.True(t, isAdmin(cfg, &models.UserProfile{UserID: 5}))
	assert.True(t, isAdmin(cfg, &models.UserProfile{UserID: 1, IsAdmin: true}))
	assert.False(t, isAdmin(cfg, &models.UserProfile{UserID: 1}))
}

func TestParseFlagMode(t *testing.T) {
	assert.True(t, parseFlagMode([]string{"123"}))
	assert.True(t, parseFlagMode([]string{"123", "on"}))
	assert.True(t, parseFlagMode([]string{"123", "true"}))
	assert.False(t, parseFlagMode([]string{"123", "off"}))
	assert.False(t, parseFlagMode([]string{"123", "false"}))
	assert.False(t, parseFlagMode([]string{"123", "0"}))
	assert.False(t, parseFlagMode([]string{"123", "NO"}))
}
