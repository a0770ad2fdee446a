package handlers

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vox-ai-tgbot-go/internal/i18n"
	"github.com/vox-ai-tgbot-go/internal/models"
	"github.com/vox-ai-tgbot-go/internal/session"
	"github.com/vox-ai-tgbot-go/pkg/logger"
)

// dialogStates maps settings buttons to the dialog state they open
var dialogStates = map[string]session.State{
	"set_system_prompt": session.StateAwaitingSystemPrompt,
	"set_temperature":   session.StateAwaitingTemperature,
	"set_top_p":         session.StateAwaitingTopP,
	"set_max_tokens":    session.StateAwaitingMaxTokens,
}

// awaitingPrompts maps dialog states to the prompt shown on entry
var awaitingPrompts = map[session.State]string{
	session.StateAwaitingModel:        i18n.MsgAwaitingModel,
	session.StateAwaitingSystemPrompt: i18n.MsgAwaitingSystemPrompt,
	session.StateAwaitingTemperature:  i18n.MsgAwaitingTemperature,
	session.StateAwaitingTopP:         i18n.MsgAwaitingTopP,
	session.StateAwaitingMaxTokens:    i18n.MsgAwaitingMaxTokens,
}

// HandleCallbackQuery processes inline keyboard callbacks
func (h *CommandHandler) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	// Acknowledge immediately to clear the button loading state
	if _, err := h.bot.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		h.logger.WithError(err).Warn("Failed to answer callback query")
	}

	if callback.Message == nil {
		return nil
	}

	userID := callback.From.ID
	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID
	data := callback.Data

	prof, err := ensureProfile(ctx, h.profiles, userID, callback.From.UserName)
	if err != nil {
		logger.WithUser(h.logger, userID).WithError(err).Error("Failed to load profile")
		return err
	}
	lang := prof.Language

	if !hasAccess(&h.config.Bot, prof) {
		return h.edit(chatID, messageID, h.localizer.Get(lang, i18n.MsgNoPermission, nil))
	}

	switch {
	case data == "back":
		h.sessions.Reset(userID)
		return h.edit(chatID, messageID, h.localizer.Get(lang, i18n.MsgOK, nil))

	case strings.HasPrefix(data, "set_language:"):
		code := strings.TrimPrefix(data, "set_language:")
		if !h.localizer.Has(code) {
			return h.edit(chatID, messageID, h.localizer.Get(lang, i18n.MsgLanguageInvalid, nil))
		}
		h.scheduleUpdate(userID, chatID, lang, func(p *models.UserProfile) {
			p.Language = code
		}, func() error {
			return h.edit(chatID, messageID, h.localizer.Get(code, i18n.MsgLanguageSet, map[string]interface{}{
				"Value": h.localizer.Get(code, i18n.MsgLanguageName, nil),
			}))
		})
		return nil

	case strings.HasPrefix(data, "set_speaker:"):
		speaker := strings.TrimPrefix(data, "set_speaker:")
		if !h.hasSpeaker(speaker) {
			return h.edit(chatID, messageID, h.localizer.Get(lang, i18n.MsgSpeakerInvalid, nil))
		}
		h.scheduleUpdate(userID, chatID, lang, func(p *models.UserProfile) {
			p.Speaker = speaker
		}, func() error {
			return h.edit(chatID, messageID, h.localizer.Get(lang, i18n.MsgSpeakerSet, map[string]interface{}{
				"Value": speaker,
			}))
		})
		return nil

	case data == "set_model":
		// The model can be picked from the keyboard or typed as free text,
		// so the dialog state opens alongside the picker.
		if err := h.sessions.Begin(userID, session.StateAwaitingModel); err != nil {
			if errors.Is(err, session.ErrDialogActive) {
				return h.edit(chatID, messageID, h.localizer.Get(lang, i18n.MsgDialogActive, nil))
			}
			return err
		}
		h.metrics.RecordDialogTransition(string(session.StateAwaitingModel))
		return h.showModelOptions(chatID, messageID, lang)

	case strings.HasPrefix(data, "choose_model:"):
		h.sessions.Reset(userID)
		model := strings.TrimPrefix(data, "choose_model:")
		if !h.aiService.HasModel(model) {
			return h.edit(chatID, messageID, h.localizer.Get(lang, i18n.MsgModelInvalid, nil))
		}
		h.scheduleUpdate(userID, chatID, lang, func(p *models.UserProfile) {
			p.Model = model
		}, func() error {
			return h.edit(chatID, messageID, h.localizer.Get(lang, i18n.MsgModelSet, map[string]interface{}{
				"Value": model,
			}))
		})
		return nil

	default:
		state, ok := dialogStates[data]
		if !ok {
			return nil
		}
		if err := h.sessions.Begin(userID, state); err != nil {
			if errors.Is(err, session.ErrDialogActive) {
				return h.edit(chatID, messageID, h.localizer.Get(lang, i18n.MsgDialogActive, nil))
			}
			return err
		}
		h.metrics.RecordDialogTransition(string(state))
		return h.reply(chatID, h.localizer.Get(lang, awaitingPrompts[state], nil))
	}
}

// showModelOptions edits the settings message into a model picker
func (h *CommandHandler) showModelOptions(chatID int64, messageID int, lang string) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0)
	for _, model := range h.aiService.AvailableModels() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(model, "choose_model:"+model),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(h.localizer.Get(lang, i18n.MsgGoBack, nil), "back"),
	))

	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID,
		h.localizer.Get(lang, i18n.MsgChooseModel, nil),
		tgbotapi.NewInlineKeyboardMarkup(rows...))

	_, err := h.bot.Send(edit)
	return err
}

func (h *CommandHandler) hasSpeaker(speaker string) bool {
	for _, s := range h.aiService.Speakers() {
		if s == speaker {
			return true
		}
	}
	return false
}

func (h *CommandHandler) edit(chatID int64, messageID int, text string) error {
	_, err := h.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	return err
}
