package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/vox-ai-tgbot-go/internal/config"
	"github.com/vox-ai-tgbot-go/internal/models"
	"github.com/vox-ai-tgbot-go/internal/services/profile"
)

// ensureProfile returns the user's profile, creating a default one on first
// interaction
func ensureProfile(ctx context.Context, store *profile.Store, userID int64, userName string) (*models.UserProfile, error) {
	prof, err := store.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return store.CreateDefault(ctx, userID, userName)
	}
	return prof, err
}

// isAdmin reports whether the user is an admin by config or profile flag
func isAdmin(cfg *config.BotConfig, prof *models.UserProfile) bool {
	for _, id := range cfg.AdminUsers {
		if id == prof.UserID {
			return true
		}
	}
	return prof.IsAdmin
}

// hasAccess applies the blacklist and, in whitelist mode, the whitelist
func hasAccess(cfg *config.BotConfig, prof *models.UserProfile) bool {
	if prof.IsBlacklisted {
		return false
	}
	if cfg.AccessMode == "whitelist" {
		return prof.IsWhitelisted || isAdmin(cfg, prof)
	}
	return true
}

// parseFlagMode interprets an optional on/off argument, defaulting to on
func parseFlagMode(args []string) bool {
	if len(args) < 2 {
		return true
	}
	switch strings.ToLower(args[1]) {
	case "false", "0", "off", "no":
		return false
	default:
		return true
	}
}
