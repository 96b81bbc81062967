package main

import (
	"log/slog"

	"github.com/mirsubmit/backend/internal/config"
	"github.com/mirsubmit/backend/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:   "mailer",
		Short: "Captcha-protected form mailer",
		Long: `Serves the /mailer endpoint: captcha challenges for visitor sessions and
form submissions that are mailed to the configured recipients.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
			for _, w := range cfg.Validate().Warnings {
				slog.Warn("configuration warning", "field", w.Field, "message", w.Message)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cfg)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (TOML or YAML)")
	rootCmd.AddCommand(serveCmd, checkConfigCmd, submissionsCmd)
}
