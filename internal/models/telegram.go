package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string `validate:"required"`
	ChatID   string `validate:"required"`
}

// TelegramMessage holds the data for a backup notification.
type TelegramMessage struct {
	Success     bool
	Host        string
	Destination string
	StartTime   time.Time
	Duration    time.Duration

	// Copy stats.
	BytesDone  uint64
	FilesDone  int64
	FilesTotal int64

	// Error info (if failed).
	ErrorMessage      string
	InterruptedReason string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
