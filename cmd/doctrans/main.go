package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/encnetwork/doctrans/internal/config"
	"github.com/encnetwork/doctrans/internal/document"
	"github.com/encnetwork/doctrans/internal/download"
	"github.com/encnetwork/doctrans/internal/engine"
	"github.com/encnetwork/doctrans/internal/httpapi"
	"github.com/encnetwork/doctrans/internal/jobs"
	"github.com/encnetwork/doctrans/internal/llm"
	"github.com/encnetwork/doctrans/internal/persistence"
	"github.com/encnetwork/doctrans/internal/provider"
	"github.com/encnetwork/doctrans/internal/scheduler"
	"github.com/encnetwork/doctrans/internal/service"
	"github.com/encnetwork/doctrans/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "doctrans: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "doctrans",
		Short:        "Office document translation service",
		Long:         "doctrans translates office documents in batches through an LLM provider,\nwith a persistent job queue, checkpointed progress and downloadable results.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	cmd.AddCommand(
		newServeCmd(),
		newTranslateCmd(),
	)
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the translation API server and job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewFromEnv()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.System.HTTPAddr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	store, err := persistence.NewSQLiteStore(cfg.System.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	jobStore, err := jobs.NewStore(ctx, store,
		jobs.WithTTL(cfg.Queue.JobTTL),
		jobs.WithEstimates(cfg.Queue.PerFileCost, cfg.Queue.QueueWaitUnit),
	)
	if err != nil {
		return err
	}
	downloads, err := download.NewRegistry(ctx, store, download.WithTTL(cfg.Queue.DownloadTTL))
	if err != nil {
		return err
	}

	codecs := newCodecRegistry()
	translator, err := newTranslator(cfg)
	if err != nil {
		return err
	}
	checkpoints := engine.NewCheckpointStore(cfg.System.DataDir)
	eng := engine.New(translator, checkpoints, engine.Options{
		TokenBudget: cfg.Engine.TokenBudget,
		MaxRetries:  cfg.Engine.MaxRetries,
		RetryBase:   cfg.Engine.RetryBase,
	})
	workspace := service.NewWorkspace(cfg.System.DataDir)
	executor := service.NewExecutor(codecs, eng, checkpoints, downloads, workspace)

	sched := scheduler.New(jobStore, executor, downloads, checkpoints, workspace, scheduler.Options{
		CleanupCron:    cfg.Queue.CleanupCron,
		IdleInterval:   cfg.Queue.IdleInterval,
		ErrorBackoff:   cfg.Queue.ErrorBackoff,
		CleanupBackoff: cfg.Queue.CleanupBackoff,
		MaxProcessing:  cfg.Queue.MaxProcessing,
		MaxRequeues:    cfg.Queue.MaxRequeues,
	})
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	server := httpapi.NewServer(jobStore, downloads, codecs, workspace)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", cfg.System.HTTPAddr)
		serveErr <- server.ListenAndServe(cfg.System.HTTPAddr)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown: %v", err)
		}
	}
	return nil
}

func newTranslateCmd() *cobra.Command {
	var sourceLang string
	var targetLang string
	var outputDir string
	cmd := &cobra.Command{
		Use:   "translate [files...]",
		Short: "Translate documents directly, without the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if targetLang == "" {
				return fmt.Errorf("--target is required")
			}
			cfg, err := config.NewFromEnv()
			if err != nil {
				return err
			}
			return runTranslate(cmd.Context(), cfg, args, sourceLang, targetLang, outputDir)
		},
	}
	cmd.Flags().StringVar(&sourceLang, "source", "auto", "Source language code, or auto")
	cmd.Flags().StringVar(&targetLang, "target", "", "Target language code (required)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory for translated files")
	return cmd
}

// runTranslate is the one-shot path: same codecs and engine as the
// server, but no queue, no tokens and no persistence beyond the
// checkpoint files that make reruns resumable.
func runTranslate(ctx context.Context, cfg *config.Config, files []string, sourceLang, targetLang, outputDir string) error {
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	codecs := newCodecRegistry()
	translator, err := newTranslator(cfg)
	if err != nil {
		return err
	}
	checkpoints := engine.NewCheckpointStore(cfg.System.DataDir)
	eng := engine.New(translator, checkpoints, engine.Options{
		TokenBudget: cfg.Engine.TokenBudget,
		MaxRetries:  cfg.Engine.MaxRetries,
		RetryBase:   cfg.Engine.RetryBase,
	})

	runID := "cli-" + jobs.NewID()
	for _, file := range files {
		codec, err := codecs.Lookup(file)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		units, err := codec.Extract(file)
		if err != nil {
			return fmt.Errorf("extract %s: %w", file, err)
		}
		log.Info("Extracted %d units from %s", len(units), file)

		result, err := eng.TranslateFile(ctx, runID, filepath.Base(file), units, sourceLang, targetLang)
		if err != nil {
			return fmt.Errorf("translate %s: %w", file, err)
		}

		outputPath := filepath.Join(outputDir, "translated_"+filepath.Base(file))
		if err := codec.Write(file, outputPath, result.Translations); err != nil {
			return fmt.Errorf("write %s: %w", file, err)
		}
		if failed := len(result.Failures); failed > 0 {
			log.Warn("%s: %d batches kept their original text", file, failed)
		}
		log.Info("Wrote %s", outputPath)
	}
	if err := checkpoints.Remove(runID); err != nil {
		log.Warn("Failed to remove checkpoints: %v", err)
	}
	return nil
}

func newCodecRegistry() *document.Registry {
	codecs := document.NewRegistry()
	codecs.Register(".xlsx", document.NewXLSXCodec())
	return codecs
}

func newTranslator(cfg *config.Config) (provider.Client, error) {
	client, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return provider.NewLLMTranslator(client)
}
