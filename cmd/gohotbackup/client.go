package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gohotbackup/internal/api"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var killReason string

var startCmd = &cobra.Command{
	Use:   "start <destination>",
	Short: "Start a hot backup and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE:  startBackup,
}

var throttleCmd = &cobra.Command{
	Use:   "throttle <bytes-per-second>",
	Short: "Limit backup I/O (0 = unlimited)",
	Long: `Limit the I/O of the running and all later backups.
The value is a number of bytes per second or a quantity with a k/m/g suffix,
for example 512k or 10m.`,
	Args: cobra.ExactArgs(1),
	RunE: throttleBackup,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of the current backup",
	Args:  cobra.NoArgs,
	RunE:  backupStatus,
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Interrupt the current backup",
	Args:  cobra.NoArgs,
	RunE:  killBackup,
}

var versionCmd = &cobra.Command{
	Use:   "engine-version",
	Short: "Show the backup engine version of a running server",
	Args:  cobra.NoArgs,
	RunE:  engineVersion,
}

func init() {
	killCmd.Flags().StringVar(&killReason, "reason", "", "reason reported for the interrupted backup")
}

func startBackup(cmd *cobra.Command, args []string) error {
	resp, err := api.NewClient(serverAddr).Start(cmd.Context(), args[0])
	if err != nil {
		log.Error().Err(err).Str("addr", serverAddr).Msg("failed to reach server")
		return err
	}

	if !resp.OK {
		event := log.Error().Str("error", resp.ErrMsg)
		if resp.Error != nil {
			event = event.Int("errno", resp.Error.Errno).Str("strerror", resp.Error.Strerror)
		}
		if resp.Reason != "" {
			event = event.Str("reason", resp.Reason)
		}
		event.Msg("backup failed")
		return errors.New(resp.ErrMsg)
	}

	log.Info().Str("session_id", resp.SessionID).Str("destination", args[0]).Msg("backup completed successfully")
	return nil
}

func throttleBackup(cmd *cobra.Command, args []string) error {
	resp, err := api.NewClient(serverAddr).Throttle(cmd.Context(), args[0])
	if err != nil {
		log.Error().Err(err).Str("addr", serverAddr).Msg("failed to reach server")
		return err
	}

	if !resp.OK {
		log.Error().Str("error", resp.ErrMsg).Msg("throttle rejected")
		return errors.New(resp.ErrMsg)
	}

	log.Info().Str("value", args[0]).Msg("throttle set")
	return nil
}

func backupStatus(cmd *cobra.Command, args []string) error {
	resp, err := api.NewClient(serverAddr).Status(cmd.Context())
	if err != nil {
		log.Error().Err(err).Str("addr", serverAddr).Msg("failed to reach server")
		return err
	}

	if !resp.OK || resp.StatusReport == nil {
		fmt.Println(resp.ErrMsg)
		return nil
	}

	fmt.Printf("Progress: %6.2f%%\n", resp.Percent)
	fmt.Printf("Copied:   %s\n", humanize.IBytes(resp.BytesDone))
	fmt.Printf("Files:    %d of %d\n", resp.Files.Done, resp.Files.Total)
	if resp.Current != nil {
		fmt.Printf("Current:  %s\n", resp.Current.Source)
		if resp.Current.Dest != "" {
			fmt.Printf("  to:     %s\n", resp.Current.Dest)
		}
		if resp.Current.Bytes != nil {
			fmt.Printf("  bytes:  %s of %s\n", humanize.IBytes(resp.Current.Bytes.Done), humanize.IBytes(resp.Current.Bytes.Total))
		}
	}
	return nil
}

func killBackup(cmd *cobra.Command, args []string) error {
	resp, err := api.NewClient(serverAddr).Kill(cmd.Context(), killReason)
	if err != nil {
		log.Error().Err(err).Str("addr", serverAddr).Msg("failed to reach server")
		return err
	}

	if !resp.OK {
		log.Error().Str("error", resp.ErrMsg).Msg("kill failed")
		return errors.New(resp.ErrMsg)
	}

	log.Info().Msg("backup interrupt requested")
	return nil
}

func engineVersion(cmd *cobra.Command, args []string) error {
	resp, err := api.NewClient(serverAddr).Version(cmd.Context())
	if err != nil {
		log.Error().Err(err).Str("addr", serverAddr).Msg("failed to reach server")
		return err
	}

	if !resp.OK {
		log.Error().Str("error", resp.ErrMsg).Msg("engine unavailable")
		return errors.New(resp.ErrMsg)
	}

	fmt.Println(resp.Version)
	return nil
}
