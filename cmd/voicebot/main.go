package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/voicebot/cmd/voicebot/cmds"
	"github.com/go-go-golems/voicebot/pkg/config"
	"github.com/go-go-golems/voicebot/pkg/logging"
)

func newRootCmd(v *viper.Viper) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:          config.AppName,
		Short:        "voicebot is a voice and text chat client for the hotel receptionist bot",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			if err := config.InitViper(v, configFile); err != nil {
				return err
			}
			// reinitialize the logger now that --log-level and co are parsed
			return logging.InitLogger(logging.SettingsFromViper(v))
		},
	}

	if err := logging.AddFlags(rootCmd, v); err != nil {
		return nil, err
	}
	if err := config.AddFlags(rootCmd, v); err != nil {
		return nil, err
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Log every event passing through the router")
	if err := v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		return nil, err
	}

	rootCmd.AddCommand(
		cmds.NewChatCommand(v),
		cmds.NewAskCommand(v),
		cmds.NewRecordCommand(v),
		cmds.NewTranscribeCommand(v),
		cmds.NewHistoryCommand(v),
	)
	return rootCmd, nil
}

func main() {
	if err := logging.InitLogger(logging.Settings{Level: "info"}); err != nil {
		log.Fatal().Err(err).Msg("could not initialize logger")
	}
	defer func() {
		_ = logging.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, err := newRootCmd(viper.New())
	cobra.CheckErr(err)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		_ = logging.Close()
		os.Exit(1)
	}
}
