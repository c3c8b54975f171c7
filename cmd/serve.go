package cmd

import (
	"os"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored prompts over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol.
		logger.SetOutput(os.Stderr)

		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := mcpserver.New(a.store, a.renderer, a.audit, Version)
		if _, err := srv.Refresh(ctx); err != nil {
			return err
		}

		if cfg.Audit.Enabled && cfg.Audit.CleanupSchedule != "" {
			c := cron.New()
			if _, err := a.audit.Schedule(c, cfg.Audit.CleanupSchedule); err != nil {
				return err
			}
			c.Start()
			defer c.Stop()
			if err := a.audit.Cleanup(); err != nil {
				logger.Warn("audit cleanup failed: %v", err)
			}
		}

		logger.Info("serving MCP on stdio (store: %s)", cfg.Store.Type)
		return srv.ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
