// Package models contains the data structures used throughout gohotbackup.
package models

import (
	"os"
	"time"
)

// Config holds the complete configuration of a gohotbackup server.
type Config struct {
	Storage  StorageConfig
	Engine   EngineConfig
	Server   ServerConfig
	Metrics  MetricsConfig
	Telegram *TelegramConfig // nil if not configured
}

// StorageConfig describes the database directories a backup copies.
type StorageConfig struct {
	DataDir string      `validate:"required"`
	LogDir  string      // optional, backed up separately when outside DataDir
	DirMode os.FileMode // mode of created destination subdirectories
}

// EngineConfig describes how to invoke the external backup engine.
type EngineConfig struct {
	Command     string `validate:"required"`
	Args        []string
	Env         []string
	VersionArgs []string
}

// ServerConfig holds the HTTP command API settings.
type ServerConfig struct {
	Listen      string `validate:"required,hostname_port"`
	ReadTimeout time.Duration
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string `validate:"omitempty,startswith=/"`
}
