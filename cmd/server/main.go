package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Brownie44l1/describe-api/internal/cache"
	"github.com/Brownie44l1/describe-api/internal/config"
	"github.com/Brownie44l1/describe-api/internal/describe"
	"github.com/Brownie44l1/describe-api/internal/handlers"
	"github.com/Brownie44l1/describe-api/internal/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Serve image descriptions from an ONNX classifier",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(logger)
			return run(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	cmd.Flags().String("port", "", "listen port")
	cmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().Int("cache-max-entries", 0, "bound the result cache, 0 for unbounded")
	v.BindPFlag("port", cmd.Flags().Lookup("port"))
	v.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))
	v.BindPFlag("cache_max_entries", cmd.Flags().Lookup("cache-max-entries"))

	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	modelPath, metadataPath := resolveModelPaths(cfg)
	logger.Info("loading model", "path", modelPath)

	metadata, err := model.LoadMetadata(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	modelServer, err := model.NewServer(modelPath, metadata, model.ServerOptions{
		LibraryPath:    cfg.OnnxLibraryPath,
		TopK:           cfg.TopK,
		MaxImagePixels: cfg.MaxImagePixels,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	results := cache.New[model.RankedResult](cfg.CacheMaxEntries)
	service := describe.NewService(modelServer, results, logger)
	handler := handlers.NewHandler(service, cache.NewReporter(results), cfg.MaxUploadBytes(), logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"port", cfg.Port,
			"classes", len(metadata.Classes),
			"top_k", cfg.TopK,
			"cache_max_entries", cfg.CacheMaxEntries,
		)
		logger.Info("endpoints",
			"health", "GET /health",
			"describe", "POST /description (multipart field 'image')",
			"stats", "GET /cache-stats",
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	stats := results.Stats()
	logger.Info("final cache stats", "hits", stats.Hits, "misses", stats.Misses, "images_in_cache", stats.Size)
	return nil
}

// resolveModelPaths makes relative model paths work when started from
// cmd/server during development.
func resolveModelPaths(cfg *config.Config) (string, string) {
	root, err := os.Getwd()
	if err != nil {
		return cfg.ModelPath, cfg.MetadataPath
	}
	if filepath.Base(root) == "server" {
		root = filepath.Join(root, "../..")
	}
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	return abs(cfg.ModelPath), abs(cfg.MetadataPath)
}
