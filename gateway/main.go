// gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"youtube-podcast-queue/shared"
)

// server bundles the gateway's dependencies. Everything is constructed once
// in main and passed in; there is no package-level state.
type server struct {
	cfg      *shared.Config
	intake   *shared.Intake
	store    shared.JobStoreClient
	notifier *shared.RedisNotifier
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg := shared.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Infof("Chat Gateway starting on port %s", cfg.GatewayPort)

	rdb := shared.NewRedisClient(cfg)
	if err := shared.PingRedis(rdb); err != nil {
		log.Fatalf("Failed to connect to broker at %s: %v", cfg.RedisAddr, err)
	}
	defer rdb.Close()
	log.Infof("Connected to broker at %s", cfg.RedisAddr)

	queue := shared.NewRedisQueue(rdb, cfg)
	defer queue.Close()
	declareCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := queue.Declare(declareCtx); err != nil {
		cancel()
		log.Fatalf("Failed to declare queue: %v", err)
	}
	cancel()
	log.Infof("Declared queue: %s", cfg.QueueName)

	store := shared.NewRedisJobStore(rdb)
	srv := &server{
		cfg:      cfg,
		intake:   shared.NewIntake(queue, store, cfg.AllowedMediaHosts),
		store:    store,
		notifier: shared.NewRedisNotifier(rdb),
	}

	http.HandleFunc("/message", srv.handleMessage)
	http.HandleFunc("/status/", srv.handleStatus)
	http.HandleFunc("/notifications/", srv.handleNotifications)
	http.HandleFunc("/health", srv.handleHealth)

	adminRouter := http.NewServeMux()
	adminRouter.HandleFunc("/admin/jobs", srv.handleAdminListJobs)
	http.Handle("/admin/", srv.adminAuthMiddleware(adminRouter))

	fmt.Printf("🚀 Chat Gateway running on http://localhost:%s\n", cfg.GatewayPort)
	log.Fatal(http.ListenAndServe(":"+cfg.GatewayPort, nil))
}

// Enable CORS for browser-hosted chat front-ends
func enableCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// adminAuthMiddleware provides a basic bearer token authentication for admin routes
func (s *server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enableCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		token := r.Header.Get("Authorization")
		if token != "Bearer "+s.cfg.AdminToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// inboundMessage is what the chat front-end posts for each user message.
type inboundMessage struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

// handleMessage: evaluates one chat message and returns the reply text.
// Conversational text is echoed; recognized URLs are queued before the
// confirmation goes out, so a broker outage yields a 502, never a false
// "queued" reply.
func (s *server) handleMessage(w http.ResponseWriter, r *http.Request) {
	enableCORS(w)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}

	var msg inboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if msg.UserID == "" {
		http.Error(w, "Missing user_id", http.StatusBadRequest)
		return
	}

	reply, err := s.intake.Submit(r.Context(), msg.Text, msg.UserID)
	if err != nil {
		log.WithField("user", msg.UserID).Errorf("Failed to queue job: %v", err)
		http.Error(w, "Failed to submit job to processing queue", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

// handleStatus: reports a job record by its key (/status/{key})
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	enableCORS(w)
	if r.Method == http.MethodOptions {
		return
	}

	key := filepath.Base(r.URL.Path)
	rec, err := s.store.GetRecord(key)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// handleNotifications: returns recent worker notices for a user
// (/notifications/{user_id})
func (s *server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	enableCORS(w)
	if r.Method == http.MethodOptions {
		return
	}

	userID := filepath.Base(r.URL.Path)
	notices, err := s.notifier.Recent(r.Context(), userID, 20)
	if err != nil {
		log.WithField("user", userID).Errorf("Failed to read notifications: %v", err)
		http.Error(w, "Failed to retrieve notifications", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(notices)
}

// handleHealth: Basic health check for the gateway
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	enableCORS(w)
	if r.Method == http.MethodOptions {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"message": "Chat Gateway is healthy",
	})
}

// handleAdminListJobs: Lists all job records
func (s *server) handleAdminListJobs(w http.ResponseWriter, r *http.Request) {
	// Auth handled by middleware
	recs, err := s.store.ListRecords()
	if err != nil {
		log.Errorf("Failed to list job records for admin: %v", err)
		http.Error(w, "Failed to retrieve jobs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}
