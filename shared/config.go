// shared/config.go
package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultGatewayPort = "8080"
	DefaultWorkerPort  = "8081" // Workers expose their own HTTP endpoint for health checks
	DefaultMaxWorkers  = 3
	DefaultAdminToken  = "super-secret-admin-token-change-me" // CHANGE THIS IN PRODUCTION

	DefaultQueueName      = "youtube_urls"
	DefaultDeadLetterName = "youtube_urls_dead"
	DefaultConsumerGroup  = "downloaders"
	DefaultConsumerTag    = "youtube_consumer"

	DefaultAllowedMediaHosts = "youtube.com,www.youtube.com,youtu.be"
	DefaultMaxAttempts       = 3
	DefaultFetchTimeoutSec   = 600 // yt-dlp deadline per invocation
	// Pending deliveries idle longer than this are re-claimed. Must exceed
	// the worst-case job duration (two tool invocations plus the append),
	// otherwise an in-flight delivery gets claimed and processed twice.
	DefaultReclaimIdleSec = 1500
	DefaultFeedDir        = "feeds"
	DefaultDownloadDir    = "downloads"
	DefaultYtDlpPath      = "yt-dlp"
)

// Config holds global configuration for the services
type Config struct {
	GatewayPort string
	WorkerPort  string
	MaxWorkers  int
	AdminToken  string

	// Redis broker. RedisAddr is mandatory: the queue is the durable handoff
	// between gateway and worker, so there is no in-process fallback.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Queue configuration
	QueueName      string
	DeadLetterName string
	ConsumerGroup  string
	ConsumerTag    string
	MaxAttempts    int
	ReclaimIdleSec int

	// Job intake
	AllowedMediaHosts []string

	// External tool and file layout
	YtDlpPath       string
	DownloadDir     string
	FeedDir         string
	FetchTimeoutSec int
}

// LoadConfig loads configuration from environment variables or uses defaults.
// A .env file in the working directory is honored when present.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, reading environment directly")
	}

	adminToken := os.Getenv("ADMIN_TOKEN")
	if strings.TrimSpace(adminToken) == "" {
		adminToken = DefaultAdminToken
		log.Warn("ADMIN_TOKEN not set. Using default development token. DO NOT USE IN PRODUCTION.")
	}

	hostsCSV := os.Getenv("ALLOWED_MEDIA_HOSTS")
	if strings.TrimSpace(hostsCSV) == "" {
		hostsCSV = DefaultAllowedMediaHosts
	}

	return &Config{
		GatewayPort: valueOrDefault(os.Getenv("GATEWAY_PORT"), DefaultGatewayPort),
		WorkerPort:  valueOrDefault(os.Getenv("WORKER_PORT"), DefaultWorkerPort),
		MaxWorkers:  intFromEnv("MAX_WORKERS", DefaultMaxWorkers),
		AdminToken:  adminToken,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intFromEnv("REDIS_DB", 0),

		QueueName:      valueOrDefault(os.Getenv("QUEUE_NAME"), DefaultQueueName),
		DeadLetterName: valueOrDefault(os.Getenv("DEAD_LETTER_NAME"), DefaultDeadLetterName),
		ConsumerGroup:  valueOrDefault(os.Getenv("CONSUMER_GROUP"), DefaultConsumerGroup),
		ConsumerTag:    valueOrDefault(os.Getenv("CONSUMER_TAG"), DefaultConsumerTag),
		MaxAttempts:    intFromEnv("MAX_DELIVERY_ATTEMPTS", DefaultMaxAttempts),
		ReclaimIdleSec: intFromEnv("RECLAIM_IDLE_SECONDS", DefaultReclaimIdleSec),

		AllowedMediaHosts: splitAndClean(hostsCSV),

		YtDlpPath:       valueOrDefault(os.Getenv("YTDLP_PATH"), DefaultYtDlpPath),
		DownloadDir:     valueOrDefault(os.Getenv("DOWNLOAD_DIR"), DefaultDownloadDir),
		FeedDir:         valueOrDefault(os.Getenv("FEED_DIR"), DefaultFeedDir),
		FetchTimeoutSec: intFromEnv("FETCH_TIMEOUT_SECONDS", DefaultFetchTimeoutSec),
	}
}

// Validate checks the settings a service cannot run without. The broker address
// is required: starting without it would accept jobs that go nowhere.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("REDIS_ADDR must be set")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive, got %d", c.MaxWorkers)
	}
	if len(c.AllowedMediaHosts) == 0 {
		return fmt.Errorf("ALLOWED_MEDIA_HOSTS must list at least one host")
	}
	// A job runs up to two tool invocations back to back. The reclaim window
	// must outlast that, or a slow but healthy download is redelivered while
	// still in flight and appended twice.
	if c.ReclaimIdleSec <= 2*c.FetchTimeoutSec {
		return fmt.Errorf("RECLAIM_IDLE_SECONDS (%d) must exceed twice FETCH_TIMEOUT_SECONDS (%d)",
			c.ReclaimIdleSec, c.FetchTimeoutSec)
	}
	return nil
}

// intFromEnv parses a positive integer from the environment, falling back on
// the default when unset or invalid. REDIS_DB is the one zero-valued default.
func intFromEnv(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Warnf("%s invalid (%q), using default: %d", name, v, fallback)
		return fallback
	}
	return n
}

// valueOrDefault returns fallback if s is empty
func valueOrDefault(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// splitAndClean splits a comma-separated list and trims spaces; empty entries are removed
func splitAndClean(csv string) []string {
	parts := strings.Split(csv, ",")
	var out []string
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
