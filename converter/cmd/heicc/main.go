package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"heicConverter/converter/codec"
	"heicConverter/converter/config"
	"heicConverter/converter/coordinator"
	"heicConverter/converter/handle"
	"heicConverter/converter/pool"
	"heicConverter/converter/queue"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	var (
		quality int
		fast    bool
		format  string
		jobs    int
		outDir  string
		bundle  bool
	)

	rootCmd := &cobra.Command{
		Use:          "heicc [files...]",
		Short:        "Convert HEIC images to JPEG/PNG with a bounded worker pool",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, quality, fast, format, jobs, outDir, bundle, cfg)
		},
	}

	rootCmd.Flags().IntVarP(&quality, "quality", "q", cfg.Quality, "JPEG quality 1-100")
	rootCmd.Flags().BoolVar(&fast, "fast", cfg.FastMode, "trade resolution for speed on large images")
	rootCmd.Flags().StringVarP(&format, "format", "f", cfg.Format, "output format: jpeg | png")
	rootCmd.Flags().IntVarP(&jobs, "jobs", "j", cfg.MaxContexts, "max parallel conversions (0 = number of CPUs)")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", cfg.OutputDir, "output directory")
	rootCmd.Flags().BoolVar(&bundle, "zip", false, "bundle outputs into a single zip archive")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(paths []string, quality int, fast bool, format string, jobs int, outDir string, bundle bool, cfg *config.Config) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	files, err := readFiles(paths)
	if err != nil {
		return err
	}

	p := pool.New(func() (codec.Codec, error) {
		return codec.NewHEIF(logger), nil
	}, logger)
	defer p.Terminate()

	store := queue.NewStore(logger)
	store.AddListener(func(ev queue.Event) {
		if ev.Kind != queue.EventUpdated || ev.Entry == nil {
			return
		}
		switch ev.Entry.Status {
		case queue.StatusComplete:
			logger.Info("converted",
				zap.String("file", ev.Entry.Name),
				zap.Int64("output_bytes", ev.Entry.OutputSize),
			)
		case queue.StatusError:
			logger.Error("conversion failed",
				zap.String("file", ev.Entry.Name),
				zap.String("error", ev.Entry.Err),
			)
		}
	})

	opts := []coordinator.Option{
		coordinator.WithPoolConfig(pool.Config{
			MaxContexts: jobs,
			MinContexts: cfg.MinContexts,
			InitTimeout: cfg.InitTimeout,
		}),
	}
	if bundle {
		opts = append(opts, coordinator.WithArchiver(coordinator.ZipArchiver{}))
	}
	coord := coordinator.New(store, p, handle.NewRegistry(), logger, opts...)

	ctx := context.Background()
	entries, err := coord.Add(ctx, files, codec.Options{
		Quality:  quality,
		FastMode: fast,
		Format:   format,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no HEIC files among %d inputs", len(files))
	}
	if len(entries) < len(files) {
		logger.Warn("some inputs were not HEIC and were skipped",
			zap.Int("accepted", len(entries)),
			zap.Int("submitted", len(files)),
		)
	}

	if err := coord.Wait(ctx); err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := coord.Deliver(ctx, coordinator.DirSink{Dir: outDir}); err != nil {
		return err
	}

	st := store.Stats()
	logger.Info("batch finished",
		zap.Int("total", st.Total),
		zap.Int("completed", st.Completed),
		zap.Int("errors", st.Errors),
		zap.Int64("input_bytes", st.TotalInputSize),
		zap.Int64("output_bytes", st.TotalOutputSize),
		zap.Duration("conversion_time", st.TotalTime),
	)
	if st.Errors > 0 {
		return fmt.Errorf("%d of %d conversions failed", st.Errors, st.Total)
	}
	return nil
}

func readFiles(paths []string) ([]queue.File, error) {
	files := make([]queue.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read input %s: %w", path, err)
		}
		files = append(files, queue.File{
			Name:      filepath.Base(path),
			MediaType: mime.TypeByExtension(filepath.Ext(path)),
			Data:      data,
		})
	}
	return files, nil
}
