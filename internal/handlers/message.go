package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

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
	"github.com/vox-ai-tgbot-go/pkg/markdown"
)

// MessageHandler orchestrates regular text and voice messages
type MessageHandler struct {
	config     *config.Config
	bot        *tgbotapi.BotAPI
	aiService  ai.Service
	profiles   *profile.Store
	sessions   *session.Manager
	admission  *middleware.AdmissionController
	dispatcher *dispatch.Dispatcher
	localizer  *i18n.Localizer
	metrics    *middleware.Metrics
	fileClient *http.Client
	logger     *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	cfg *config.Config,
	bot *tgbotapi.BotAPI,
	aiService ai.Service,
	profiles *profile.Store,
	sessions *session.Manager,
	admission *middleware.AdmissionController,
	dispatcher *dispatch.Dispatcher,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		config:     cfg,
		bot:        bot,
		aiService:  aiService,
		profiles:   profiles,
		sessions:   sessions,
		admission:  admission,
		dispatcher: dispatcher,
		localizer:  localizer,
		metrics:    metrics,
		fileClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// HandleMessage admits the message, then either consumes it as settings
// dialog input or hands it to the dispatcher for asynchronous processing.
// The acknowledgment path never waits on the AI backend.
func (h *MessageHandler) HandleMessage(ctx context.Context, update *tgbotapi.Update) error {
	message := update.Message
	if message == nil || message.IsCommand() {
		return nil
	}
	if message.From.ID == h.bot.Self.ID {
		return nil
	}

	chatID := message.Chat.ID
	userID := message.From.ID

	kind := "text"
	if message.Voice != nil {
		kind = "voice"
	}
	h.metrics.RecordMessageReceived(kind)

	prof, err := ensureProfile(ctx, h.profiles, userID, message.From.UserName)
	if err != nil {
		logger.WithUser(h.logger, userID).WithError(err).Error("Failed to load profile")
		return err
	}
	lang := prof.Language

	if !hasAccess(&h.config.Bot, prof) {
		return h.replyTo(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgNoPermission, nil))
	}

	switch h.admission.Admit(userID) {
	case middleware.GlobalLimited:
		h.metrics.RecordAdmissionRejected("global")
		return h.replyTo(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgNoGlobalCapacity, nil))
	case middleware.UserLimited:
		h.metrics.RecordAdmissionRejected("user")
		return h.replyTo(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgNoUserCapacity, nil))
	}

	// A dialog in progress consumes the input
	if state := h.sessions.Current(userID); state != session.StateIdle {
		return h.consumeDialogInput(message, prof, state)
	}

	h.metrics.RecordJobScheduled()
	h.dispatcher.Schedule(userID, func(jobCtx context.Context) error {
		if err := h.processMessage(jobCtx, message); err != nil {
			return err
		}
		h.metrics.RecordJobCompleted("success")
		return nil
	}, func(err error) {
		h.metrics.RecordJobCompleted("error")
		if sendErr := h.replyTo(chatID, message.MessageID, h.localizer.Get(lang, i18n.MsgProcessingError, nil)); sendErr != nil {
			h.logger.WithError(sendErr).Error("Failed to send failure notification")
		}
	})

	if _, err := h.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		h.logger.WithError(err).Debug("Failed to send typing action")
	}
	return nil
}

// consumeDialogInput performs exactly one settings update for the active
// dialog and always returns it to idle, whether or not the value was valid.
// The profile write is queued behind the user's pending jobs: an in-flight
// exchange upserts the whole row when it finishes, so a setting written
// inline would be silently reverted by it.
func (h *MessageHandler) consumeDialogInput(message *tgbotapi.Message, prof *models.UserProfile, state session.State) error {
	h.sessions.Reset(message.From.ID)

	userID := message.From.ID
	chatID := message.Chat.ID
	messageID := message.MessageID
	lang := prof.Language
	input := message.Text

	h.metrics.RecordJobScheduled()
	h.dispatcher.Schedule(userID, func(jobCtx context.Context) error {
		msgID, data, err := h.consumeSetting(jobCtx, userID, state, input)
		if err != nil {
			return err
		}
		if err := h.replyTo(chatID, messageID, h.localizer.Get(lang, msgID, data)); err != nil {
			return err
		}
		h.metrics.RecordJobCompleted("success")
		return nil
	}, func(err error) {
		h.metrics.RecordJobCompleted("error")
		if sendErr := h.replyTo(chatID, messageID, h.localizer.Get(lang, i18n.MsgProcessingError, nil)); sendErr != nil {
			h.logger.WithError(sendErr).Error("Failed to send failure notification")
		}
	})
	return nil
}

// consumeSetting re-reads the profile inside the job so the change applies on
// top of whatever the queue already committed, then performs the single
// validated update. A validation failure reports the reason and changes
// nothing.
func (h *MessageHandler) consumeSetting(ctx context.Context, userID int64, state session.State, input string) (string, map[string]interface{}, error) {
	prof, err := h.profiles.Get(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	msgID, data, err := h.applySetting(ctx, prof, state, input)
	if err != nil && !errors.Is(err, models.ErrValidation) {
		return "", nil, err
	}
	return msgID, data, nil
}

// applySetting validates the input for the given dialog state and persists
// the profile when it is valid. Invalid input reports a validation error and
// leaves the profile untouched.
func (h *MessageHandler) applySetting(ctx context.Context, prof *models.UserProfile, state session.State, input string) (string, map[string]interface{}, error) {
	switch state {
	case session.StateAwaitingModel:
		if !h.aiService.HasModel(input) {
			return i18n.MsgModelInvalid, nil, fmt.Errorf("%w: unknown model %q", models.ErrValidation, input)
		}
		prof.Model = input
		if err := h.profiles.Update(ctx, prof); err != nil {
			return i18n.MsgProcessingError, nil, err
		}
		return i18n.MsgModelSet, map[string]interface{}{"Value": input}, nil

	case session.StateAwaitingSystemPrompt:
		prof.SystemPrompt = input
		if err := h.profiles.Update(ctx, prof); err != nil {
			return i18n.MsgProcessingError, nil, err
		}
		return i18n.MsgParamSet, map[string]interface{}{"Param": "System prompt", "Value": input}, nil

	case session.StateAwaitingTemperature, session.StateAwaitingTopP:
		param := "Temperature"
		if state == session.StateAwaitingTopP {
			param = "Top P"
		}
		value, err := strconv.ParseFloat(input, 64)
		if err != nil || value < 0 || value > 1 {
			return i18n.MsgParamInvalid, map[string]interface{}{"Param": param},
				fmt.Errorf("%w: %s %q out of range [0,1]", models.ErrValidation, param, input)
		}
		if state == session.StateAwaitingTemperature {
			prof.Temperature = value
		} else {
			prof.TopP = value
		}
		if err := h.profiles.Update(ctx, prof); err != nil {
			return i18n.MsgProcessingError, nil, err
		}
		return i18n.MsgParamSet, map[string]interface{}{"Param": param, "Value": value}, nil

	case session.StateAwaitingMaxTokens:
		value, err := strconv.Atoi(input)
		if err != nil || value <= 0 {
			return i18n.MsgMaxTokensInvalid, nil,
				fmt.Errorf("%w: max_tokens %q must be a positive integer", models.ErrValidation, input)
		}
		prof.MaxTokens = value
		if err := h.profiles.Update(ctx, prof); err != nil {
			return i18n.MsgProcessingError, nil, err
		}
		return i18n.MsgMaxTokensSet, map[string]interface{}{"Value": value}, nil

	default:
		return i18n.MsgProcessingError, nil, fmt.Errorf("unexpected dialog state: %s", state)
	}
}

// processMessage runs inside a dispatcher job: transcribe if needed, ask the
// backend, persist the exchange, and deliver the reply.
func (h *MessageHandler) processMessage(ctx context.Context, message *tgbotapi.Message) error {
	userID := message.From.ID
	chatID := message.Chat.ID

	// Re-read inside the job so queued jobs see each other's writes
	prof, err := h.profiles.Get(ctx, userID)
	if err != nil {
		return err
	}

	userText := message.Text
	replyLang := prof.Language
	asVoice := message.Voice != nil

	if asVoice {
		audio, err := h.downloadVoice(ctx, message.Voice)
		if err != nil {
			return err
		}

		start := time.Now()
		text, detected, err := h.aiService.Transcribe(ctx, audio)
		h.recordAI("transcribe", start, err)
		if err != nil {
			return err
		}
		userText = text
		if detected != "" {
			replyLang = detected
		}
	}

	start := time.Now()
	reply, err := h.runExchange(ctx, prof, userText)
	h.recordAI("generate", start, err)
	if err != nil {
		return err
	}

	if asVoice {
		h.sendVoiceReply(ctx, message, prof, reply, replyLang)
		return nil
	}

	h.sendTextReply(chatID, message.MessageID, reply)
	return nil
}

// runExchange performs one full conversation turn against the backend and
// persists it. The original exchange is not persisted when the backend
// fails.
func (h *MessageHandler) runExchange(ctx context.Context, prof *models.UserProfile, userText string) (string, error) {
	systemPrompt := models.Message{Role: "system", Content: prof.SystemPrompt}
	userPrompt := models.Message{Role: "user", Content: userText}

	messages := make([]models.Message, 0, len(prof.MessageHistory)+3)
	messages = append(messages, systemPrompt)
	messages = append(messages, prof.MessageHistory...)
	if h.config.History.RemindSystemPrompt {
		messages = append(messages, systemPrompt)
	}
	messages = append(messages, userPrompt)

	reply, err := h.aiService.Generate(ctx, prof.Model, messages, models.GenerationOptions{
		Temperature: prof.Temperature,
		TopP:        prof.TopP,
		MaxTokens:   prof.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	prof.MessageHistory = append(prof.MessageHistory, userPrompt)
	prof.MessageHistory = append(prof.MessageHistory, models.Message{Role: "assistant", Content: reply})
	prof.LastRequest = time.Now()

	if err := h.profiles.Update(ctx, prof); err != nil {
		return "", err
	}

	return reply, nil
}

// downloadVoice fetches the voice note audio from the transport
func (h *MessageHandler) downloadVoice(ctx context.Context, voice *tgbotapi.Voice) ([]byte, error) {
	url, err := h.bot.GetFileDirectURL(voice.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve voice file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.fileClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download voice file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voice download failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// sendVoiceReply synthesizes the reply and sends it as a voice note, falling
// back to text when synthesis fails
func (h *MessageHandler) sendVoiceReply(ctx context.Context, message *tgbotapi.Message, prof *models.UserProfile, reply, lang string) {
	start := time.Now()
	audio, err := h.aiService.Synthesize(ctx, reply, lang, prof.Speaker)
	h.recordAI("synthesize", start, err)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", prof.UserID).Error("Voice synthesis failed")
		fallback := h.localizer.Get(prof.Language, i18n.MsgVoiceErrorSorry, nil) + reply
		if sendErr := h.replyTo(message.Chat.ID, message.MessageID, fallback); sendErr != nil {
			h.logger.WithError(sendErr).Error("Failed to send voice fallback")
		}
		return
	}

	voice := tgbotapi.NewVoice(message.Chat.ID, tgbotapi.FileBytes{Name: "reply.ogg", Bytes: audio})
	voice.ReplyToMessageID = message.MessageID
	if _, err := h.bot.Send(voice); err != nil {
		h.logger.WithError(err).Error("Failed to send voice reply")
	}
}

// sendTextReply renders the reply as Telegram HTML, falling back to plain text
func (h *MessageHandler) sendTextReply(chatID int64, messageID int, reply string) {
	msg := tgbotapi.NewMessage(chatID, markdown.ToTelegramHTML(reply))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = messageID

	if _, err := h.bot.Send(msg); err != nil {
		h.logger.WithError(err).Warn("Failed to send HTML reply, trying plain text")
		plain := tgbotapi.NewMessage(chatID, reply)
		plain.ReplyToMessageID = messageID
		if _, err := h.bot.Send(plain); err != nil {
			h.logger.WithError(err).Error("Failed to send reply")
		}
	}
}

func (h *MessageHandler) replyTo(chatID int64, messageID int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = messageID
	_, err := h.bot.Send(msg)
	return err
}

func (h *MessageHandler) recordAI(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordAIRequest(operation, status, time.Since(start))
}
