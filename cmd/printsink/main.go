package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orrn/printsink/internal/api"
	"github.com/orrn/printsink/internal/api/handlers"
	"github.com/orrn/printsink/internal/api/middleware"
	"github.com/orrn/printsink/internal/archive"
	"github.com/orrn/printsink/internal/capture"
	"github.com/orrn/printsink/internal/config"
	"github.com/orrn/printsink/internal/escpos"
	"github.com/orrn/printsink/internal/webhook"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "printsink.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Printf("capture listener: %s:%d (enabled: %v, codepage: %s)",
		cfg.Capture.Host, cfg.Capture.Port, cfg.Capture.Enabled, cfg.Parser.DefaultCodepage)
	log.Printf("history limit: %d jobs, archive: %v, webhooks: %d, auth: %v",
		cfg.History.MaxJobs, cfg.Archive.Enabled, len(cfg.Webhooks), cfg.Auth.PasswordHash != "")

	page, _ := escpos.PageByName(cfg.Parser.DefaultCodepage)
	parser := escpos.NewParser(page)

	history := capture.NewHistory(cfg.History.MaxJobs, cfg.History.MaxBytes)
	server := capture.NewServer(cfg, history)

	hub := handlers.NewEventHub()

	sender := webhook.NewSender(cfg.Webhooks, webhook.Options{})
	sender.Start()

	var store *archive.Store
	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		store, err = archive.NewStore(cfg.Archive.Dir)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		archiver = archive.NewArchiver(store, cfg.Archive.RetentionMonths)
		archiver.Start()
	}

	auth, err := middleware.NewAuthMiddleware(cfg.Auth.PasswordHash, cfg.Auth.SessionTTL.Std())
	if err != nil {
		log.Fatalf("failed to initialize auth: %v", err)
	}

	server.OnJob(func(job *capture.Job) {
		hub.BroadcastJobCaptured(job)
		sender.SendJobCaptured(job)
		if archiver != nil {
			archiver.Enqueue(job)
		}
	})

	if cfg.Capture.Enabled {
		if err := server.Start(); err != nil {
			log.Printf("[capture] listener not started: %v", err)
		}
	}

	pruneStop := make(chan struct{})
	if age := cfg.History.PruneAge.Std(); age > 0 {
		go pruneLoop(history, age, pruneStop)
	}

	router := api.NewRouter(api.Deps{
		Version: version,
		History: history,
		Server:  server,
		Store:   store,
		Parser:  parser,
		Hub:     hub,
		Sender:  sender,
		Auth:    auth,
	})

	// No read or write timeouts here, the event feed holds connections
	// open indefinitely.
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Printf("shutting down")

		close(pruneStop)
		server.Stop()
		hub.Close()
		sender.Stop()
		if archiver != nil {
			archiver.Stop()
			store.Close()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("printsink %s serving on http://%s", version, httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// pruneLoop drops history entries older than age once a minute.
func pruneLoop(history *capture.History, age time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := history.PruneOlderThan(age); n > 0 {
				log.Printf("[capture] pruned %d jobs older than %s", n, age)
			}
		case <-stop:
			return
		}
	}
}
