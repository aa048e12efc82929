package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dockhand/internal/commit"
	"dockhand/internal/config"
	"dockhand/internal/extraction"
	"dockhand/internal/intake"
	"dockhand/internal/logging"
	"dockhand/internal/ocr"
	"dockhand/internal/pipeline"
	"dockhand/internal/reconcile"
	"dockhand/internal/server"
	"dockhand/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Process logger; category file logs live under .dockhand/logs/.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dockhand",
	Short: "dockhand - receiving document pipeline for fleet inventory",
	Long: `dockhand ingests photos and PDFs of packing lists, invoices, and
shipping labels, runs OCR and extraction over them, reconciles the extracted
lines against the vessel's catalog and shopping list, and commits verified
sessions into immutable inventory, finance, and audit records.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and processing pipeline",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one pass of the temp-file sweeper and exit",
	RunE:  runSweep,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dockhand version",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.DefaultConfig()
		fmt.Printf("dockhand %s\n", cfg.Version)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "dockhand.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, sweepCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.DebugMode = true
	}
	initCategoryLogs(cfg)
	defer logging.CloseAll()

	st, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, sweeper, err := bootstrap(cfg, st)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dockhand listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	initCategoryLogs(cfg)
	defer logging.CloseAll()

	sweeper := pipeline.NewSweeper(cfg.Storage.TempRoot, config.Duration(cfg.Storage.SweepMaxAge))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	go sweeper.Run(ctx)
	<-ctx.Done()
	return nil
}

// bootstrap assembles the pipeline from configuration.
func bootstrap(cfg *config.Config, st *store.Store) (*server.Server, *pipeline.Sweeper, error) {
	blobs := pipeline.NewFileBlobStore(cfg.Storage.BlobRoot)
	gate := intake.NewGate(st, blobs, intake.Options{
		MaxFileSizeBytes: cfg.Intake.MaxFileSizeBytes(),
		MinImageWidth:    cfg.Intake.MinImageWidth,
		MinImageHeight:   cfg.Intake.MinImageHeight,
		DQSThreshold:     cfg.Intake.DQSThreshold,
		Weights: intake.QualityWeights{
			Blur:     cfg.Intake.DQSBlurWeight,
			Glare:    cfg.Intake.DQSGlareWeight,
			Contrast: cfg.Intake.DQSContrastWeight,
		},
		GlarePixelThreshold: cfg.Intake.GlarePixelThreshold,
		MaxUploadsPerHour:   cfg.Intake.MaxUploadsPerHour,
		RateLimitWindow:     cfg.Intake.RateLimitWindow(),
	})

	selector := ocr.NewSelector(cfg.OCR.EnginePriority, cfg.OCR.EnginesEnabled)
	engineTimeout := config.Duration(cfg.OCR.EngineTimeout)
	selector.Register(ocr.NewTesseractEngine(cfg.OCR.TesseractBinary, true, engineTimeout))
	selector.Register(ocr.NewTesseractEngine(cfg.OCR.TesseractBinary, false, engineTimeout))
	if cfg.OCR.CloudEndpoint != "" {
		selector.Register(ocr.NewCloudEngine(cfg.OCR.CloudEndpoint, cfg.OCR.CloudAPIKey, engineTimeout))
	}
	layer := ocr.NewLayer(selector,
		ocr.NewPreprocessor(cfg.OCR.MaxDimensionPx),
		"cloud", cfg.OCR.FallbackBelow)

	var llm extraction.LLMClient
	if cfg.Extraction.APIKey != "" {
		client, err := extraction.NewGeminiClient(context.Background(),
			cfg.Extraction.APIKey, config.Duration(cfg.Extraction.CallTimeout))
		if err != nil {
			return nil, nil, err
		}
		llm = client
	} else {
		logger.Warn("no LLM API key configured; extraction runs without normalization")
	}

	stager := pipeline.NewTempStager(cfg.Storage.TempRoot)
	reconciler := reconcile.NewReconciler(st, st, st)
	orch := pipeline.NewOrchestrator(st, blobs, stager, layer, reconciler, llm, cfg.Extraction)
	commits := commit.NewEngine(st)

	srv := server.New(gate, orch, st, commits, selector,
		cfg.Server.Environment == "development", cfg.Version)
	sweeper := pipeline.NewSweeper(cfg.Storage.TempRoot, config.Duration(cfg.Storage.SweepMaxAge))
	return srv, sweeper, nil
}

func initCategoryLogs(cfg *config.Config) {
	logging.Initialize(".", logging.Settings{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	})
}
