package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/artifact"
	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/config"
	"github.com/JakeFAU/site-cloner/internal/server"
)

type cloneFlags struct {
	fullSite bool
	maxPages int
	noAssets bool
	model    string
	out      string
}

// newCloneCmd creates the 'clone' subcommand, which runs one job in-process
// and writes its artifact to disk.
func newCloneCmd() *cobra.Command {
	var flags cloneFlags
	cmd := &cobra.Command{
		Use:   "clone URL",
		Short: "Clone a single page or a whole site without starting the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			req, err := buildCloneRequest(args[0], flags, rt.cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runClone(ctx, rt, req, flags.out, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&flags.fullSite, "full-site", false, "discover and clone every same-origin page")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "page limit for full-site clones (default jobs.max_pages_default)")
	cmd.Flags().BoolVar(&flags.noAssets, "no-assets", false, "skip downloading and inlining stylesheets, images, scripts and fonts")
	cmd.Flags().StringVar(&flags.model, "model", "", "transform model key (default transform.default_model)")
	cmd.Flags().StringVarP(&flags.out, "out", "o", ".", "directory the artifact is written to")
	return cmd
}

func buildCloneRequest(rawURL string, flags cloneFlags, cfg config.Config) (cloner.Request, error) {
	u, err := cloner.ParseHTTPURL(rawURL)
	if err != nil {
		return cloner.Request{}, fmt.Errorf("invalid url: %w", err)
	}
	maxPages := flags.maxPages
	if maxPages == 0 {
		maxPages = cfg.Jobs.MaxPagesDefault
	}
	if maxPages < 1 || maxPages > cfg.Jobs.MaxPagesLimit {
		return cloner.Request{}, fmt.Errorf("max-pages must be between 1 and %d", cfg.Jobs.MaxPagesLimit)
	}
	model := flags.model
	if model == "" {
		model = cfg.Transform.DefaultModel
	}
	return cloner.Request{
		URL:           u.String(),
		Model:         model,
		FullSite:      flags.fullSite,
		MaxPages:      maxPages,
		IncludeAssets: !flags.noAssets,
	}, nil
}

func runClone(ctx context.Context, rt *appEnv, req cloner.Request, outDir string, stdout io.Writer) (err error) {
	app, err := server.Build(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		err = errors.Join(err, app.Close(context.WithoutCancel(ctx)))
	}()

	job, err := app.Clone(ctx, req, func(line string) {
		fmt.Fprintln(stdout, line)
	})
	if err != nil {
		return err
	}
	a, err := artifact.ForJob(job)
	if err != nil {
		return fmt.Errorf("build artifact: %w", err)
	}
	path, err := writeArtifact(outDir, a)
	if err != nil {
		return err
	}
	rt.logger.Info("clone written", zap.String("job_id", job.ID), zap.String("path", path))
	fmt.Fprintln(stdout, "Wrote", path)
	return nil
}

func writeArtifact(dir string, a artifact.Artifact) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}
