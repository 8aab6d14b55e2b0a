package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rahul/planbench/internal/governance"
	"github.com/rahul/planbench/internal/observability"
	"github.com/rahul/planbench/internal/planner"
	"github.com/rahul/planbench/internal/server"
	"github.com/rahul/planbench/internal/store"
	"github.com/rahul/planbench/internal/tools"
	"github.com/rahul/planbench/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

func main() {
	observability.PrintBanner()
	observability.InitializeTerminal()
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig("config.json")

	history, err := store.NewHistoryStore(cfg.Server.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer history.Close()

	registry := tools.Default()

	gov := governance.NewDefaultPolicyEngine()
	gov.AllowOnly(registry.Names()...)
	for _, name := range cfg.Server.DeniedTools {
		gov.DenyTool(name)
	}
	for _, pattern := range cfg.Server.DeniedPatterns {
		if err := gov.DenyArguments(pattern); err != nil {
			log.Fatalf("invalid denied pattern %q: %v", pattern, err)
		}
	}

	// Initialize LLM (using default enabled provider)
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		log.Fatal("No enabled provider found in config")
	}

	var llm llms.Model
	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	default:
		log.Fatalf("Provider %s not yet implemented in main", pName)
	}

	if err != nil {
		log.Fatal(err)
	}

	logger := observability.NewLogger()
	prompts := planner.NewPromptManager(cfg.App.PromptsDir)
	brain := planner.NewBrain(llm, registry, history, prompts, gov, logger)
	brain.ModelName = pCfg.Model

	srv := server.New(brain, history, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.PrintLiveStatus()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	}()

	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("\033[91m[ FAIL ] SERVER CRITICAL ERROR: %v\033[0m", err)
	}

	observability.CleanupTerminal()
	log.Println("\033[95m[ EXIT ] PLANNING SERVICE STOPPED.\033[0m")
}
