package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracekit/tracekit/internal/adapter/llm"
	"github.com/tracekit/tracekit/internal/adapter/sandbox"
	"github.com/tracekit/tracekit/internal/blob"
	"github.com/tracekit/tracekit/internal/config"
	"github.com/tracekit/tracekit/internal/qa"
	store "github.com/tracekit/tracekit/internal/repository"
	"github.com/tracekit/tracekit/internal/service"
	transport "github.com/tracekit/tracekit/internal/transport/http"
	"github.com/tracekit/tracekit/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting tracekit...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Blob root: %s", cfg.BlobRoot)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize blob store
	blobs, err := blob.NewFSStore(cfg.BlobRoot)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize adapters
	sandboxExec := sandbox.New(cfg.SandboxMode)
	judgeClient := llm.New(cfg.JudgeMode, cfg.JudgeBaseURL, cfg.JudgeAPIKey, cfg.JudgeTimeout)

	// Initialize service and QA worker
	svc := service.New(db, blobs, policyEngine, cfg)
	worker := qa.NewWorker(svc, sandboxExec, judgeClient, cfg)
	svc.SetQAQueue(worker)

	workerCtx, stopWorker := context.WithCancel(ctx)
	go worker.Run(workerCtx)

	// Start HTTP server
	server := transport.NewServer(svc)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down tracekit...")

	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("tracekit stopped")
}
