// worker/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"youtube-podcast-queue/shared"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg := shared.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Infof("Worker Service starting on port %s with %d max concurrent jobs", cfg.WorkerPort, cfg.MaxWorkers)

	rdb := shared.NewRedisClient(cfg)
	if err := shared.PingRedis(rdb); err != nil {
		log.Fatalf("Failed to connect to broker at %s: %v", cfg.RedisAddr, err)
	}
	defer rdb.Close()
	log.Infof("Connected to broker at %s", cfg.RedisAddr)

	queue := shared.NewRedisQueue(rdb, cfg)
	defer queue.Close()

	pipeline := NewPipeline(
		cfg,
		queue,
		shared.NewRedisJobStore(rdb),
		shared.NewYtDlpFetcher(cfg),
		shared.NewFeedStore(cfg),
		shared.NewRedisNotifier(rdb),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received interrupt signal, shutting down consumer")
		cancel()
	}()

	// Semaphore bounding concurrent jobs in this worker process.
	limiter := make(chan struct{}, cfg.MaxWorkers)

	go func() {
		if err := consumeLoop(ctx, queue, pipeline, limiter, cfg.MaxWorkers); err != nil {
			log.Fatalf("Consumer stopped: %v", err)
		}
		log.Info("Queue consumer stopped")
		os.Exit(0)
	}()

	http.HandleFunc("/health", healthHandler(cfg, limiter))
	fmt.Printf("⚙️ Worker Service running on http://localhost:%s\n", cfg.WorkerPort)
	log.Fatal(http.ListenAndServe(":"+cfg.WorkerPort, nil))
}

// consumeLoop pulls deliveries until the subscription ends. Each job runs on
// its own goroutine gated by the limiter, so a slow download does not stall
// the stream of deliveries for other users.
func consumeLoop(ctx context.Context, queue shared.MessageQueueClient, pipeline *Pipeline, limiter chan struct{}, maxWorkers int) error {
	deliveries, err := queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	log.Info("Waiting for YouTube URLs...")

	for d := range deliveries {
		limiter <- struct{}{}
		log.Infof("Worker acquired slot for delivery %s (%d/%d busy)", d.ID, len(limiter), maxWorkers)

		go func(d shared.Delivery) {
			defer func() { <-limiter }()
			pipeline.Process(ctx, d)
		}(d)
	}
	if ctx.Err() != nil {
		return nil // shutdown requested
	}
	return fmt.Errorf("subscription terminated: broker connection lost")
}

// healthHandler reports consumer saturation alongside the basic liveness check.
func healthHandler(cfg *shared.Config, limiter chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		message := "Worker Service is healthy and consuming from queue."
		if len(limiter) == cfg.MaxWorkers {
			message = "Worker Service is healthy but all workers are currently busy."
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":         "ok",
			"message":        message,
			"active_workers": fmt.Sprintf("%d/%d", len(limiter), cfg.MaxWorkers),
		})
	}
}
