package cmd

import (
	"fmt"
	"os"

	"github.com/kayz/dotprompt/internal/config"
	"github.com/kayz/dotprompt/internal/logger"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	configPath string

	// cfg is loaded before every command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dotprompt",
	Short: "Render .prompt templates into model-ready messages",
	Long: `dotprompt compiles prompt files (YAML front matter + Handlebars body)
into a resolved configuration and a list of role-tagged messages.

Commands:
  dotprompt render     Render a prompt from the store or a file
  dotprompt schema     Compile a Picoschema document to JSON Schema
  dotprompt serve      Serve stored prompts over MCP (stdio)
  dotprompt store      List and import prompts`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFromPath(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// --log wins over the config file when given.
		name := cfg.Logging.Level
		if cmd.Flags().Changed("log") || name == "" {
			name = logLevel
		}
		level, err := logger.ParseLevel(name)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info",
		"Log level: trace, debug, info, warn, error, fatal, panic")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config file (default: .dotprompt.yaml next to the executable)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
