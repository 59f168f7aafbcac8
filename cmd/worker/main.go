package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/reviewloop/internal/app"
	"github.com/ignite/reviewloop/internal/config"
	"github.com/ignite/reviewloop/internal/worker"
)

func main() {
	log.Println("Starting review outreach worker...")

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(path)
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

	loop := worker.NewLoop(cfg.Scheduler.Interval(), a.Tasks()...)
	stopped := make(chan struct{})
	go func() {
		loop.Start(ctx)
		close(stopped)
	}()
	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	// Let the in-flight pass finish its claimed items.
	<-stopped
	log.Println("Worker stopped")
}
