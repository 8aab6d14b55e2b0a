package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rahul/planbench/internal/gateway"
	"github.com/rahul/planbench/internal/observability"
	"github.com/rahul/planbench/internal/planclient"
	"github.com/rahul/planbench/internal/render"
	"github.com/rahul/planbench/internal/workbench"
	"github.com/rahul/planbench/pkg/config"
)

func main() {
	observability.PrintBanner()
	observability.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig("config.json")

	policies := render.DefaultPolicies()
	if cfg.Display.PoliciesPath != "" {
		custom, err := render.LoadPolicies(cfg.Display.PoliciesPath)
		if err != nil {
			log.Fatalf("failed to load display policies: %v", err)
		}
		policies = policies.Merge(custom)
	}

	logger := observability.NewLogger()
	client := planclient.New(cfg.Planner.BaseURL, cfg.PlannerTimeout())
	patient := workbench.Patient{
		MRN:     cfg.Planner.MRN,
		CSN:     cfg.Planner.CSN,
		Dataset: cfg.Planner.Dataset,
	}
	dispatcher := gateway.NewDispatcher(client, logger, policies, patient)
	dispatcher.Timeout = cfg.PlannerTimeout()

	var messengers []gateway.Messenger
	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, dispatcher)
		if err != nil {
			log.Fatal(err)
		}
		messengers = append(messengers, tg)
	}
	if dcCfg, ok := cfg.GetDiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, dispatcher)
		if err != nil {
			log.Fatal(err)
		}
		messengers = append(messengers, dc)
	}
	if len(messengers) == 0 {
		log.Fatal("No gateway is enabled: configure telegram or discord with a token")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start Live Resource Dashboard (1-second updates)
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

	log.Printf("Planning service at %s", cfg.Planner.BaseURL)
	for _, m := range messengers {
		go func(m gateway.Messenger) {
			if err := m.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop() // stop caller if gateway dies
			}
		}(m)
	}

	// Wait for shutdown signal
	<-ctx.Done()

	for _, m := range messengers {
		if err := m.Stop(); err != nil {
			log.Printf("Error stopping gateway: %v", err)
		}
	}

	// Reset terminal aesthetics
	observability.CleanupTerminal()

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] PLANBENCH DE-INITIALIZED. GOODBYE.\033[0m")
}
