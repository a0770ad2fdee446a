package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/vox-ai-tgbot-go/internal/config"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from the configured bundles
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		path := filepath.Join(cfg.Directory, lang+".json")
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", path, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Languages returns the loaded language codes
func (l *Localizer) Languages() []string {
	langs := make([]string, 0, len(l.localizers))
	for lang := range l.localizers {
		langs = append(langs, lang)
	}
	return langs
}

// Has reports whether the language is loaded
func (l *Localizer) Has(lang string) bool {
	_, ok := l.localizers[lang]
	return ok
}

// Get returns the localized message, falling back to the default language and
// finally to the message id itself
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}
	if localizer == nil {
		return messageID
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}

	return msg
}

// Message IDs
const (
	MsgWelcome              = "welcome"
	MsgNoGlobalCapacity     = "no_global_capacity"
	MsgNoUserCapacity       = "no_user_capacity"
	MsgNoPermission         = "no_permission"
	MsgAdminOnly            = "admin_only"
	MsgHistoryReset         = "history_reset"
	MsgSettings             = "settings"
	MsgSetModel             = "set_model"
	MsgSetSystemPrompt      = "set_system_prompt"
	MsgSetTemperature       = "set_temperature"
	MsgSetTopP              = "set_top_p"
	MsgSetMaxTokens         = "set_max_tokens"
	MsgGoBack               = "go_back"
	MsgOK                   = "ok"
	MsgChooseModel          = "choose_model"
	MsgChooseLanguage       = "choose_language"
	MsgChooseSpeaker        = "choose_speaker"
	MsgAwaitingModel        = "awaiting_model"
	MsgAwaitingSystemPrompt = "awaiting_system_prompt"
	MsgAwaitingTemperature  = "awaiting_temperature"
	MsgAwaitingTopP         = "awaiting_top_p"
	MsgAwaitingMaxTokens    = "awaiting_max_tokens"
	MsgDialogExpired        = "dialog_expired"
	MsgDialogActive         = "dialog_active"
	MsgModelSet             = "model_set"
	MsgModelInvalid         = "model_invalid"
	MsgParamSet             = "param_set"
	MsgParamInvalid         = "param_invalid"
	MsgMaxTokensSet         = "max_tokens_set"
	MsgMaxTokensInvalid     = "max_tokens_invalid"
	MsgLanguageSet          = "language_set"
	MsgLanguageInvalid      = "language_invalid"
	MsgSpeakerSet           = "speaker_set"
	MsgSpeakerInvalid       = "speaker_invalid"
	MsgLanguageName         = "language_name"
	MsgProcessingError      = "processing_error"
	MsgVoiceErrorSorry      = "voice_error_sorry"
	MsgNoHistory            = "no_history"
	MsgHistoryExportError   = "history_export_error"
	MsgUserWhitelisted      = "user_whitelisted"
	MsgUserBlacklisted      = "user_blacklisted"
	MsgUserAdmined          = "user_admined"
	MsgBroadcastSent        = "broadcast_sent"
	MsgUsageWhitelist       = "usage_whitelist"
	MsgUsageBroadcast       = "usage_broadcast"
	MsgUnknownCommand       = "unknown_command"
)
