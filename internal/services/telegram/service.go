// Package telegram provides Telegram notification services.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/fgeck/gohotbackup/internal/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Delivery retry defaults.
const (
	defaultMaxRetries      = 3
	defaultInitialInterval = 500 * time.Millisecond
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string

	maxRetries      uint64
	initialInterval time.Duration
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClient(logger, &http.Client{Timeout: 30 * time.Second}, "https://api.telegram.org")
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient:      httpClient,
		logger:          logger,
		baseURL:         baseURL,
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendNotification sends a backup notification via Telegram.
// Network errors and 5xx/429 responses are retried with exponential backoff.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", msg.Success).
		Msg("sending Telegram notification")

	jsonBody, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      s.formatMessage(msg),
		ParseMode: "HTML",
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	attempt := 0
	send := func() error {
		attempt++
		return s.send(ctx, url, jsonBody)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("Telegram notification failed, retrying")
	}

	if err := backoff.RetryNotify(send, s.backoff(ctx), notify); err != nil {
		result.Error = err
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func (s *Impl) backoff(ctx context.Context) backoff.BackOff {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.initialInterval
	expBackoff.MaxElapsedTime = time.Minute
	expBackoff.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(expBackoff, s.maxRetries), ctx)
}

func (s *Impl) send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(fmt.Errorf("failed to send request: %w", err))
		}
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("telegram API returned status %d", resp.StatusCode))
	}
}

func (s *Impl) formatMessage(msg models.TelegramMessage) string {
	var b bytes.Buffer

	if msg.Success {
		b.WriteString("✅ <b>Hot Backup Successful</b>\n\n")
	} else {
		b.WriteString("❌ <b>Hot Backup Failed</b>\n\n")
	}

	// Basic info
	b.WriteString(fmt.Sprintf("🖥 <b>Host:</b> %s\n", escapeHTML(msg.Host)))
	b.WriteString(fmt.Sprintf("📁 <b>Destination:</b> %s\n", escapeHTML(msg.Destination)))
	b.WriteString(fmt.Sprintf("⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second)))

	b.WriteString("\n<b>📊 Copy Statistics:</b>\n")
	b.WriteString(fmt.Sprintf("  • Copied: %s\n", humanize.IBytes(msg.BytesDone)))
	b.WriteString(fmt.Sprintf("  • Files: %d of %d\n", msg.FilesDone, msg.FilesTotal))

	if !msg.Success {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		if msg.ErrorMessage != "" {
			b.WriteString(fmt.Sprintf("  • Error: <code>%s</code>\n", escapeHTML(msg.ErrorMessage)))
		}
		if msg.InterruptedReason != "" {
			b.WriteString(fmt.Sprintf("  • Interrupted: %s\n", escapeHTML(msg.InterruptedReason)))
		}
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
