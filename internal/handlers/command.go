package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/vox-ai-tgbot-go/internal/config"
	"github.com/vox-ai-tgbot-go/internal/dispatch"
	"github.com/vox-ai-tgbot-go/internal/i18n"
	"github.com/vox-ai-tgbot-go/internal/middleware"
	"github.com/vox-ai-tgbot-go/internal/models"
	"github.com/vox-ai-tgbot-go/internal/services/ai"
	"github.com/vox-ai-tgbot-go/internal/services/profile"
	"github.com/vox-ai-tgbot-go/internal/session"
	"github.com/vox-ai-tgbot-go/pkg/logger"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CommandHandler handles telegram commands and inline keyboard callbacks
type CommandHandler struct {
	bot        *tgbotapi.BotAPI
	config     *config.Config
	aiService  ai.Service
	profiles   *profile.Store
	sessions   *session.Manager
	admission  *middleware.AdmissionController
	dispatcher *dispatch.Dispatcher
	localizer  *i18n.Localizer
	metrics    *middleware.Metrics
	logger     *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot *tgbotapi.BotAPI,
	cfg *config.Config,
	aiService ai.Service,
	profiles *profile.Store,
	sessions *session.Manager,
	admission *middleware.AdmissionController,
	dispatcher *dispatch.Dispatcher,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		bot:        bot,
		config:     cfg,
		aiService:  aiService,
		profiles:   profiles,
		sessions:   sessions,
		admission:  admission,
		dispatcher: dispatcher,
		localizer:  localizer,
		metrics:    metrics,
		logger:     logger,
	}
}

// scheduleUpdate queues a whole-profile mutation behind the user's pending
// jobs. An in-flight exchange upserts the full row when it completes, so a
// settings write applied inline could be silently reverted by it; the
// per-user queue serializes the two. confirm runs after the write commits.
func (h *CommandHandler) scheduleUpdate(userID, chatID int64, lang string, mutate func(*models.UserProfile), confirm func() error) {
	h.metrics.RecordJobScheduled()
	h.dispatcher.Schedule(userID, func(ctx context.Context) error {
		prof, err := h.profiles.Get(ctx, userID)
		if err != nil {
			return err
		}
		mutate(prof)
		if err := h.profiles.Update(ctx, prof); err != nil {
			return err
		}
		if err := confirm(); err != nil {
			return err
		}
		h.metrics.RecordJobCompleted("success")
		return nil
	}, func(err error) {
		h.metrics.RecordJobCompleted("error")
		if sendErr := h.reply(chatID, h.localizer.Get(lang, i18n.MsgProcessingError, nil)); sendErr != nil {
			h.logger.WithError(sendErr).Error("Failed to send failure notification")
		}
	})
}

// HandleCommand processes telegram commands
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	userID := message.From.ID
	command := message.Command()

	prof, err := ensureProfile(ctx, h.profiles, userID, message.From.UserName)
	if err != nil {
		logger.WithUser(h.logger, userID).WithError(err).Error("Failed to load profile")
		return err
	}
	lang := prof.Language

	// Admin commands are gated on admin status, everything else on access
	// mode and the admission controller.
	switch command {
	case "whitelist", "blacklist", "grant_admin", "broadcast":
		if !isAdmin(&h.config.Bot, prof) {
			return h.reply(chatID, h.localizer.Get(lang, i18n.MsgAdminOnly, nil))
		}
	default:
		if !hasAccess(&h.config.Bot, prof) {
			return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNoPermission, nil))
		}
		switch h.admission.Admit(userID) {
		case middleware.GlobalLimited:
			h.metrics.RecordAdmissionRejected("global")
			return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNoGlobalCapacity, nil))
		case middleware.UserLimited:
			h.metrics.RecordAdmissionRejected("user")
			return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNoUserCapacity, nil))
		}
	}

	switch command {
	case "start":
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgWelcome, nil))
	case "reset":
		return h.handleReset(chatID, prof)
	case "settings":
		return h.handleSettings(chatID, prof)
	case "language":
		return h.handleLanguage(chatID, lang)
	case "speaker":
		return h.handleSpeaker(chatID, lang)
	case "history":
		return h.handleHistory(chatID, prof)
	case "whitelist":
		return h.handleTrustFlag(ctx, message, prof, models.FlagWhitelisted, i18n.MsgUserWhitelisted)
	case "blacklist":
		return h.handleTrustFlag(ctx, message, prof, models.FlagBlacklisted, i18n.MsgUserBlacklisted)
	case "grant_admin":
		return h.handleTrustFlag(ctx, message, prof, models.FlagAdmin, i18n.MsgUserAdmined)
	case "broadcast":
		return h.handleBroadcast(ctx, message, prof)
	default:
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgUnknownCommand, nil))
	}
}

// handleReset clears the user's conversation memory. The clear is queued so
// it cannot interleave with an exchange that is still writing history.
func (h *CommandHandler) handleReset(chatID int64, prof *models.UserProfile) error {
	lang := prof.Language
	h.scheduleUpdate(prof.UserID, chatID, lang, func(p *models.UserProfile) {
		p.MessageHistory = []models.Message{}
	}, func() error {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgHistoryReset, nil))
	})
	return nil
}

// handleSettings shows current settings with the dialog keyboard
func (h *CommandHandler) handleSettings(chatID int64, prof *models.UserProfile) error {
	lang := prof.Language

	current := fmt.Sprintf(
		"Model: %s\nSystem Prompt: %s\nTemperature: %g\nTop P: %g\nMax Tokens: %d",
		prof.Model, prof.SystemPrompt, prof.Temperature, prof.TopP, prof.MaxTokens,
	)

	buttons := []struct {
		msgID string
		data  string
	}{
		{i18n.MsgSetModel, "set_model"},
		{i18n.MsgSetSystemPrompt, "set_system_prompt"},
		{i18n.MsgSetTemperature, "set_temperature"},
		{i18n.MsgSetTopP, "set_top_p"},
		{i18n.MsgSetMaxTokens, "set_max_tokens"},
		{i18n.MsgGoBack, "back"},
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(h.localizer.Get(lang, b.msgID, nil), b.data),
		))
	}

	msg := tgbotapi.NewMessage(chatID, current+"\n\n"+h.localizer.Get(lang, i18n.MsgSettings, nil))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	_, err := h.bot.Send(msg)
	return err
}

// handleLanguage shows the language selection keyboard
func (h *CommandHandler) handleLanguage(chatID int64, lang string) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0)
	for _, code := range h.localizer.Languages() {
		name := h.localizer.Get(code, i18n.MsgLanguageName, nil)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(name, "set_language:"+code),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(h.localizer.Get(lang, i18n.MsgGoBack, nil), "back"),
	))

	msg := tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgChooseLanguage, nil))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	_, err := h.bot.Send(msg)
	return err
}

// handleSpeaker shows the TTS voice selection keyboard
func (h *CommandHandler) handleSpeaker(chatID int64, lang string) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0)
	for _, speaker := range h.aiService.Speakers() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(speaker, "set_speaker:"+speaker),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(h.localizer.Get(lang, i18n.MsgGoBack, nil), "back"),
	))

	msg := tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgChooseSpeaker, nil))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	_, err := h.bot.Send(msg)
	return err
}

// handleHistory exports the conversation memory as a text document
func (h *CommandHandler) handleHistory(chatID int64, prof *models.UserProfile) error {
	lang := prof.Language

	if len(prof.MessageHistory) == 0 {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNoHistory, nil))
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  "message_history.txt",
		Bytes: []byte(formatHistory(prof.MessageHistory)),
	})
	if _, err := h.bot.Send(doc); err != nil {
		h.logger.WithError(err).Error("Failed to send history document")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgHistoryExportError, nil))
	}
	return nil
}

// handleTrustFlag applies an admin trust-flag change to the target user.
// Failures are surfaced directly to the admin rather than going through the
// job boundary.
func (h *CommandHandler) handleTrustFlag(ctx context.Context, message *tgbotapi.Message, admin *models.UserProfile, flag models.TrustFlag, doneMsgID string) error {
	chatID := message.Chat.ID
	lang := admin.Language

	args := strings.Fields(message.CommandArguments())
	if len(args) == 0 {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgUsageWhitelist, map[string]interface{}{
			"Command": message.Command(),
		}))
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgUsageWhitelist, map[string]interface{}{
			"Command": message.Command(),
		}))
	}
	value := parseFlagMode(args)

	// Flags may target users who have not interacted yet
	if _, err := ensureProfile(ctx, h.profiles, targetID, ""); err != nil {
		return h.replyError(chatID, lang, err)
	}

	if err := h.profiles.SetTrustFlag(ctx, targetID, flag, value); err != nil {
		return h.replyError(chatID, lang, err)
	}

	return h.reply(chatID, h.localizer.Get(lang, doneMsgID, map[string]interface{}{
		"UserID": targetID,
		"Value":  value,
	}))
}

// handleBroadcast sends a message to every known user
func (h *CommandHandler) handleBroadcast(ctx context.Context, message *tgbotapi.Message, admin *models.UserProfile) error {
	chatID := message.Chat.ID
	lang := admin.Language

	text := strings.TrimSpace(message.CommandArguments())
	if text == "" {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgUsageBroadcast, nil))
	}

	ids, err := h.profiles.ListAll(ctx)
	if err != nil {
		return h.replyError(chatID, lang, err)
	}

	for _, id := range ids {
		if _, err := h.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
			h.logger.WithError(err).WithField("user_id", id).Error("Failed to deliver broadcast")
		}
	}

	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgBroadcastSent, map[string]interface{}{
		"Count": len(ids),
	}))
}

// formatHistory renders conversation memory as a plain-text transcript
func formatHistory(history []models.Message) string {
	caser := cases.Title(language.English)
	var sb strings.Builder
	for _, m := range history {
		sb.WriteString(caser.String(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func (h *CommandHandler) reply(chatID int64, text string) error {
	_, err := h.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// replyError reports an administrative failure to the caller and returns the
// original error
func (h *CommandHandler) replyError(chatID int64, lang string, err error) error {
	if sendErr := h.reply(chatID, h.localizer.Get(lang, i18n.MsgProcessingError, nil)+"\n"+err.Error()); sendErr != nil {
		h.logger.WithError(sendErr).Error("Failed to send error reply")
	}
	return err
}
