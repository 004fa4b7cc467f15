package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/config"
	"github.com/JakeFAU/site-cloner/internal/logging"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// appEnv carries what every subcommand needs before it builds services.
type appEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

func loadEnv(cfgFile string) (*appEnv, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &appEnv{cfg: cfg, logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "site-cloner",
		Short: "Capture websites and package them as self-contained clones.",
		Long: `site-cloner renders pages in a headless browser, embeds their assets,
runs them through a generative transform and packages the result as an HTML
file or a zip archive of the whole site.`,
		SilenceUsage: true,

		// Runs before every subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadEnv(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, rt))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CLONER_* environment variables override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCloneCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*appEnv, error) {
	rt, ok := ctx.Value(envKey).(*appEnv)
	if !ok || rt == nil {
		return nil, errors.New("application environment not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "command failed:", err)
		os.Exit(1)
	}
}
