package main

import (
	"log"
	"os"
	"time"

	"github.com/mailminder/core/internal/api"
	"github.com/mailminder/core/internal/checkpoint"
	"github.com/mailminder/core/internal/cli"
	"github.com/mailminder/core/internal/config"
	"github.com/mailminder/core/internal/digest"
	"github.com/mailminder/core/internal/gateway"
	"github.com/mailminder/core/internal/judge"
	"github.com/mailminder/core/internal/ledger"
	"github.com/mailminder/core/internal/notify"
	"github.com/mailminder/core/internal/services"
	"github.com/mailminder/core/internal/syncer"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Check if running CLI command
	if len(os.Args) > 1 {
		cli.Execute(cfg)
		return
	}

	eventLog := ledger.New(cfg.LedgerPath())
	checkpoints := checkpoint.NewStore(cfg.CheckpointPath())
	engine := digest.NewEngine(cfg.DigestPath())

	syncOpts := syncer.DefaultOptions()
	syncOpts.RescanDays = cfg.RescanDays
	syncOpts.MaxBodyLen = cfg.MaxBodyLen
	poller := syncer.New(gateway.NewIMAPSource(), cfg.OwnerAddresses, syncOpts)

	client := judge.NewClient(cfg.Judge.Provider, cfg.Judge.APIKey, cfg.Judge.Model,
		cfg.Judge.BaseURL, time.Duration(cfg.Judge.TimeoutSeconds)*time.Second)
	classifier := judge.NewBatcher(client)
	if !client.IsConfigured() {
		log.Println("[Main] Judge API key not set, every message will be treated as important")
	}

	pusher := notify.New(cfg.NotifyURL, 15*time.Second)
	if !pusher.Enabled() {
		log.Println("[Main] Notify URL not set, alerts disabled")
	}

	orch := services.NewOrchestrator(cfg.Accounts, poller, classifier, eventLog, checkpoints, engine, pusher, services.Options{
		AlertThreshold:   cfg.AlertThreshold,
		BatchSize:        cfg.BatchSize,
		LedgerMaxEntries: cfg.LedgerMaxEntries,
	})

	scheduler := services.NewScheduler(orch,
		time.Duration(cfg.PollActiveMinutes)*time.Minute,
		time.Duration(cfg.PollInactiveMinutes)*time.Minute,
		cfg.ActiveWindow)
	scheduler.Start()
	defer scheduler.Stop()

	// Start API server
	router, apiKeyManager, err := api.SetupRouter(cfg, engine, checkpoints, orch)
	if err != nil {
		log.Fatalf("Failed to setup router: %v", err)
	}

	log.Printf("Starting Mailminder server on port %s", cfg.APIPort)
	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Watching %d account(s)", len(cfg.Accounts))
	log.Printf("API Key: %s", apiKeyManager.GetCurrentKey())
	if err := router.Run(":" + cfg.APIPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
