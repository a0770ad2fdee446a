package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vox-ai-tgbot-go/internal/config"
	"github.com/vox-ai-tgbot-go/internal/models"
)

// Service is the AI backend consumed by the orchestrator. All calls may fail
// with an error wrapping models.ErrBackend.
type Service interface {
	Generate(ctx context.Context, model string, messages []models.Message, opts models.GenerationOptions) (string, error)
	Transcribe(ctx context.Context, audio []byte) (text string, language string, err error)
	Synthesize(ctx context.Context, text, language, speaker string) ([]byte, error)
	AvailableModels() []string
	HasModel(modelID string) bool
	Speakers() []string
}

// Client talks to an OpenAI-compatible endpoint
type Client struct {
	cfg        *config.AIConfig
	models     map[string]bool
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates an AI client from config
func NewClient(cfg *config.AIConfig, logger *logrus.Logger) *Client {
	known := make(map[string]bool, len(cfg.AvailableModels))
	for _, id := range cfg.AvailableModels {
		known[id] = true
	}

	logger.WithFields(logrus.Fields{
		"base_url": cfg.BaseURL,
		"models":   len(known),
	}).Info("AI backend client initialized")

	return &Client{
		cfg:        cfg,
		models:     known,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}
}

// Generate requests a chat completion, retrying transient failures
func (c *Client) Generate(ctx context.Context, model string, messages []models.Message, opts models.GenerationOptions) (string, error) {
	const maxRetries = 3
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		response, retryable, err := c.generateOnce(ctx, model, messages, opts)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !retryable {
			break
		}

		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"model":   model,
		}).Warn("AI request failed, retrying")

		if attempt < maxRetries {
			backoff := time.Duration(2<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", models.ErrBackend, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("%w: %v", models.ErrBackend, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, model string, messages []models.Message, opts models.GenerationOptions) (string, bool, error) {
	reqBody := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": opts.Temperature,
		"top_p":       opts.TopP,
		"max_tokens":  opts.MaxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.endpoint("/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Client errors will not improve on retry
		retryable := resp.StatusCode < 400 || resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("chat completion failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", false, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error.Message != "" {
		return "", false, fmt.Errorf("backend error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", false, fmt.Errorf("empty completion")
	}

	return result.Choices[0].Message.Content, false, nil
}

// Transcribe converts voice audio to text and reports the detected language
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "voice.ogg")
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	if err := writer.WriteField("model", c.cfg.SpeechModel); err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	if err := writer.Close(); err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrBackend, err)
	}

	url := c.endpoint("/audio/transcriptions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: transcription failed with status %d: %s", models.ErrBackend, resp.StatusCode, string(body))
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", fmt.Errorf("%w: failed to parse transcription: %v", models.ErrBackend, err)
	}

	c.logger.WithField("language", result.Language).Debug("Voice transcribed")
	return result.Text, result.Language, nil
}

// Synthesize renders text as speech audio
func (c *Client) Synthesize(ctx context.Context, text, language, speaker string) ([]byte, error) {
	reqBody := map[string]interface{}{
		"model":    c.cfg.TTSModel,
		"input":    text,
		"voice":    speaker,
		"language": language,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBackend, err)
	}

	url := c.endpoint("/audio/speech")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBackend, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: speech synthesis failed with status %d: %s", models.ErrBackend, resp.StatusCode, string(body))
	}

	return body, nil
}

// AvailableModels returns the configured model ids
func (c *Client) AvailableModels() []string {
	return c.cfg.AvailableModels
}

// HasModel reports whether the model id is configured
func (c *Client) HasModel(modelID string) bool {
	return c.models[modelID]
}

// Speakers returns the configured TTS voices
func (c *Client) Speakers() []string {
	return c.cfg.Speakers
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + path
}
