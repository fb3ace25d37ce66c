package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/doc-uploader/internal/config"
	"github.com/kursadbilgin/doc-uploader/internal/domain"
	"github.com/kursadbilgin/doc-uploader/internal/intake"
	"github.com/kursadbilgin/doc-uploader/internal/observability"
	"github.com/kursadbilgin/doc-uploader/internal/progress"
	"github.com/kursadbilgin/doc-uploader/internal/provider"
	"github.com/kursadbilgin/doc-uploader/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errPartialFailure = errors.New("some files failed to upload")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errPartialFailure) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Upload documents into ingestion collections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug|info|warn|error")

	root.AddCommand(newCollectionsCmd(&logLevel))
	root.AddCommand(newUploadCmd(&logLevel))
	return root
}

type deps struct {
	cfg      *config.Config
	ingestor provider.Ingestor
	logger   *zap.Logger
}

func loadDeps(logLevel string) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(logLevel, observability.FormatConsole)
	if err != nil {
		return nil, err
	}
	ingestor, err := provider.NewHTTPIngestor(cfg.IngestAPIURL, cfg.IngestAPIToken, cfg.IngestTimeout())
	if err != nil {
		return nil, err
	}
	return &deps{cfg: cfg, ingestor: ingestor, logger: logger}, nil
}

func newCollectionsCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections available for upload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps(*logLevel)
			if err != nil {
				return err
			}
			defer d.logger.Sync() //nolint:errcheck

			return listCollections(cmd.Context(), cmd.OutOrStdout(), d.ingestor)
		},
	}
}

func newUploadCmd(logLevel *string) *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files into a collection, one at a time",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps(*logLevel)
			if err != nil {
				return err
			}
			defer d.logger.Sync() //nolint:errcheck

			orchestrator, err := service.NewOrchestrator(
				d.ingestor,
				nil,
				progress.NewTickingEstimator(d.cfg.ProgressTick()),
				d.cfg.AutoCloseDelay(),
				d.logger,
			)
			if err != nil {
				return err
			}
			return runUpload(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), orchestrator, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.collection, "collection", "", "target collection name")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "re-upload failed files up to this many times")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func listCollections(ctx context.Context, out io.Writer, ingestor provider.Ingestor) error {
	collections, err := ingestor.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	if len(collections) == 0 {
		_, _ = fmt.Fprintln(out, "no collections")
		return nil
	}
	for _, c := range collections {
		_, _ = fmt.Fprintf(out, "%s\t%s\n", c.Name, c.ID)
	}
	return nil
}

type uploadOptions struct {
	collection string
	retries    int
}

func runUpload(ctx context.Context, out io.Writer, errOut io.Writer, orchestrator *service.Orchestrator, opts uploadOptions, paths []string) error {
	candidates := make([]domain.FileHandle, 0, len(paths))
	for _, path := range paths {
		file, err := domain.NewLocalFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "skipping %s: %v\n", path, err)
			continue
		}
		candidates = append(candidates, file)
	}

	in := intake.New(nil)
	result, err := in.AddFiles(candidates)
	if err != nil {
		return err
	}
	if warning := result.Warning(); warning != nil {
		_, _ = fmt.Fprintln(errOut, warning)
	}
	if in.Len() == 0 {
		return fmt.Errorf("%w: nothing to upload", domain.ErrInvalidBatch)
	}

	files := in.Files()
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			_, _ = fmt.Fprintf(out, "retrying %d failed file(s), attempt %d of %d\n", len(files), attempt, opts.retries)
		}

		final, batchResult, err := uploadOnce(ctx, out, orchestrator, opts.collection, files)
		if err != nil {
			return err
		}

		summary := progress.Summarize(final.Items)
		_, _ = fmt.Fprintf(out, "%d of %d uploaded, %d failed\n", summary.Completed, summary.Total(), summary.Failed)
		if batchResult.AllSucceeded() {
			return nil
		}

		files = final.FailedFiles()
		if attempt >= opts.retries || ctx.Err() != nil {
			return fmt.Errorf("%w: %d file(s)", errPartialFailure, len(files))
		}
	}
}

func uploadOnce(
	ctx context.Context,
	out io.Writer,
	orchestrator *service.Orchestrator,
	collection string,
	files []domain.FileHandle,
) (domain.Batch, *domain.BatchResult, error) {
	var final domain.Batch
	reported := make(map[int]bool)

	result, err := orchestrator.Run(ctx, collection, domain.NewUploadItems(files), func(snapshot domain.Batch) {
		final = snapshot
		for i, item := range snapshot.Items {
			if !item.State.IsTerminal() || reported[i] {
				continue
			}
			reported[i] = true
			if item.State == domain.ItemStateCompleted {
				_, _ = fmt.Fprintf(out, "[ok]     %s\n", item.File.Name)
				continue
			}
			_, _ = fmt.Fprintf(out, "[failed] %s: %s\n", item.File.Name, item.ErrorMessage)
		}
	})
	if err != nil {
		return domain.Batch{}, nil, err
	}
	return final, result, nil
}
