package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/reviewloop/internal/api"
	"github.com/ignite/reviewloop/internal/app"
	"github.com/ignite/reviewloop/internal/config"
	"github.com/ignite/reviewloop/internal/worker"
)

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func main() {
	log.Println("Starting review outreach API server...")

	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.ConfigureLogging(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if cfg.Secrets.TaskSecret == "" {
		log.Println("Warning: TASK_SECRET not set, /internal endpoints will reject every call")
	}

	srv := api.NewServer(api.Deps{
		Enrollments: a.Enrollments,
		Events:      a.Reconciler,
		Feedback:    a.Feedback,
		Customers:   a.Store,
		Campaigns:   a.Store,
		Store:       a.Store,
		Tasks:       a.Tasks(),
	}, api.Options{
		PublicBaseURL:     cfg.Server.PublicBaseURL,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		TaskSecret:        cfg.Secrets.TaskSecret,
		MailgunSigningKey: cfg.Email.Mailgun.WebhookSigningKey,
		SESWebhookToken:   cfg.Email.SES.WebhookToken,
		TwilioAuthToken:   cfg.SMS.AuthToken,
	})

	// In dev mode there is no separate worker process, so run the loop here.
	if cfg.Server.DevMode {
		go worker.NewLoop(cfg.Scheduler.Interval(), a.Tasks()...).Start(ctx)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
