// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/gohotbackup/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Defaults applied when a key is absent.
const (
	DefaultDirMode     = "0750"
	DefaultListen      = "127.0.0.1:27019"
	DefaultReadTimeout = 10 * time.Second
	DefaultMetricsPath = "/metrics"
)

// DefaultVersionArgs are passed to the engine to query its version.
var DefaultVersionArgs = []string{"--version"}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("storage.dir_mode", DefaultDirMode)
	v.SetDefault("engine.version_args", DefaultVersionArgs)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", DefaultMetricsPath)
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	// Storage (required).
	cfg.Storage = models.StorageConfig{
		DataDir: p.expandEnv(p.v.GetString("storage.data_dir")),
		LogDir:  p.expandEnv(p.v.GetString("storage.log_dir")),
	}

	if cfg.Storage.DataDir == "" {
		return nil, fmt.Errorf("storage.data_dir is required")
	}

	mode, err := strconv.ParseUint(p.v.GetString("storage.dir_mode"), 8, 32)
	if err != nil {
		return nil, fmt.Errorf("storage.dir_mode must be an octal permission like 0750: %w", err)
	}
	cfg.Storage.DirMode = os.FileMode(mode)

	// Engine (required).
	cfg.Engine = models.EngineConfig{
		Command:     p.expandEnv(p.v.GetString("engine.command")),
		Args:        p.v.GetStringSlice("engine.args"),
		Env:         p.expandAll(p.v.GetStringSlice("engine.env")),
		VersionArgs: p.v.GetStringSlice("engine.version_args"),
	}

	if cfg.Engine.Command == "" {
		return nil, fmt.Errorf("engine.command is required")
	}

	// Command API server.
	cfg.Server = models.ServerConfig{
		Listen:      p.v.GetString("server.listen"),
		ReadTimeout: p.v.GetDuration("server.read_timeout"),
	}

	// Metrics.
	cfg.Metrics = models.MetricsConfig{
		Enabled: p.v.GetBool("metrics.enabled"),
		Path:    p.v.GetString("metrics.path"),
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

func (p *Parser) expandAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, p.expandEnv(v))
	}
	return out
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validating configuration: %w", err)
		}

		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
	}

	return nil
}
