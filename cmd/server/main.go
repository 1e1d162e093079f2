package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gwi.com/chat-ledger/internal/api"
	"gwi.com/chat-ledger/internal/config"
	"gwi.com/chat-ledger/internal/core"
	"gwi.com/chat-ledger/internal/logger"
	"gwi.com/chat-ledger/internal/probe"
	"gwi.com/chat-ledger/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "chat-ledger",
	Short:         "Chat front end over a document RAG pipeline with a persisted interaction trail",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.LoadConfig(); err != nil {
			return err
		}
		logger.Init(cfg.LogLevel)
		return nil
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (default)",
	RunE:  runServe,
}

func main() {
	rootCmd.AddCommand(serveCmd, ingestCmd, probeCmd)
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// openPipeline builds the store, the Gemini client and the RAG service shared
// by serve and ingest. The returned cleanup closes them in reverse order.
func openPipeline(ctx context.Context) (*store.SQLStore, *core.RAGService, func(), error) {
	if err := cfg.RequireGemini(); err != nil {
		return nil, nil, nil, err
	}

	dbStore, err := store.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	llmService, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.ChatModel, cfg.EmbeddingModel)
	if err != nil {
		dbStore.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		llmService.Close()
		dbStore.Close()
	}

	ragService, err := core.NewRAGService(ctx, dbStore, llmService, probe.NewProber(cfg.ProbeTimeout))
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return dbStore, ragService, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	dbStore, ragService, cleanup, err := openPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	chatService := core.NewChatService(dbStore, ragService, ragService, probe.NewProber(cfg.ProbeTimeout), core.ChatServiceConfig{
		DocsDir:    cfg.DocsDir,
		SessionTTL: cfg.SessionTTL,
	})

	apiHandler := api.NewAPIHandler(chatService, dbStore, cfg.MaxUploadMB)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logrus.Info("Server exiting gracefully")
	return nil
}
