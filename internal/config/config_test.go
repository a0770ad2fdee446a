package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Token:      "token",
			AccessMode: "open",
		},
		AI: AIConfig{
			BaseURL:         "https://api.example.com/v1",
			AvailableModels: []string{"model-a", "model-b"},
		},
		RateLimit: RateLimitConfig{
			GlobalRequests: 60,
			GlobalWindow:   time.Minute,
			UserRequests:   10,
			UserWindow:     time.Minute,
		},
		I18n: I18nConfig{
			DefaultLanguage: "en",
			Languages:       []string{"en", "ru"},
		},
	}
}

func TestValidateConfigAccepts(t *testing.T) {
	cfg := validTestConfig()
	require.NoError(t, validateConfig(cfg))

	// The default model falls back to the first available one
	assert.Equal(t, "model-a", cfg.Defaults.Model)
}

func TestValidateConfigRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Bot.Token = "" }},
		{"missing base url", func(c *Config) { c.AI.BaseURL = "" }},
		{"no models", func(c *Config) { c.AI.AvailableModels = nil }},
		{"bad access mode", func(c *Config) { c.Bot.AccessMode = "invite-only" }},
		{"zero global capacity", func(c *Config) { c.RateLimit.GlobalRequests = 0 }},
		{"zero user capacity", func(c *Config) { c.RateLimit.UserRequests = 0 }},
		{"default language not loaded", func(c *Config) { c.I18n.DefaultLanguage = "fr" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}
