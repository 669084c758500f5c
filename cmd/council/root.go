package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yungbote/persona-council/internal/config"
	"github.com/yungbote/persona-council/internal/platform/logger"
)

type rootOptions struct {
	configPath string
}

// NewRootCommand builds the council CLI.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "council",
		Short:         "Persona council dialogue service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to council.yaml (default $COUNCIL_CONFIG_PATH or ./config/council.yaml)")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newDeriveCommand(),
		newKeyCommand(),
		newConfigCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	mode := strings.TrimSpace(os.Getenv("LOG_MODE"))
	if mode == "" && cfg != nil {
		mode = cfg.Env
	}
	if mode == "" {
		mode = "development"
	}
	log, err := logger.New(mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}
