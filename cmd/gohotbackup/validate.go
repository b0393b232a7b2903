package main

import (
	"fmt"
	"os"

	"github.com/fgeck/gohotbackup/internal/config"
	"github.com/fgeck/gohotbackup/internal/services/planner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without starting the server or any backup.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	separateLog, err := planner.SeparateLogNeeded(cfg.Storage.DataDir, cfg.Storage.LogDir)
	if err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Storage:")
	fmt.Printf("  Data directory: %s\n", cfg.Storage.DataDir)
	if cfg.Storage.LogDir != "" {
		fmt.Printf("  Log directory: %s\n", cfg.Storage.LogDir)
	}
	fmt.Printf("  Separate log stream: %v\n", separateLog)
	fmt.Printf("  Directory mode: %#o\n", cfg.Storage.DirMode)
	fmt.Println()
	fmt.Println("Engine:")
	fmt.Printf("  Command: %s\n", cfg.Engine.Command)
	fmt.Printf("  Args: %v\n", cfg.Engine.Args)
	fmt.Printf("  Version args: %v\n", cfg.Engine.VersionArgs)
	fmt.Println()
	fmt.Println("Server:")
	fmt.Printf("  Listen: %s\n", cfg.Server.Listen)
	fmt.Printf("  Read timeout: %s\n", cfg.Server.ReadTimeout)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Metrics: %v\n", cfg.Metrics.Enabled)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.Metrics.Enabled {
		fmt.Println()
		fmt.Println("Metrics Configuration:")
		fmt.Printf("  Path: %s\n", cfg.Metrics.Path)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	return nil
}
