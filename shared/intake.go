// shared/intake.go
package shared

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const helpText = `These are the supported commands:
/help - display this text.
/start - start the bot.
/get <text> - gets the given text.

Send a YouTube link to queue it for download.`

// Reply is what the chat front-end shows the user for one inbound message.
type Reply struct {
	Text   string `json:"reply"`
	Queued bool   `json:"queued"`
	URL    string `json:"url,omitempty"`
	JobKey string `json:"job_key,omitempty"`
}

// Intake turns inbound chat text into queued jobs. Text that is not a
// recognized download request is a normal conversational message and is
// echoed back, never queued.
type Intake struct {
	queue        MessageQueueClient
	store        JobStoreClient
	allowedHosts map[string]bool
}

func NewIntake(queue MessageQueueClient, store JobStoreClient, allowedHosts []string) *Intake {
	hosts := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		hosts[strings.ToLower(h)] = true
	}
	return &Intake{queue: queue, store: store, allowedHosts: hosts}
}

// Submit evaluates one chat message. A publish failure is returned as an
// error so the caller never confirms a job that was not durably queued.
func (in *Intake) Submit(ctx context.Context, rawText, requesterID string) (Reply, error) {
	text := strings.TrimSpace(rawText)

	if reply, ok := in.handleCommand(text); ok {
		return reply, nil
	}

	if !in.isDownloadRequest(text) {
		return Reply{Text: fmt.Sprintf("You said: %s", rawText)}, nil
	}

	job := Job{URL: text, UserID: requesterID}
	rec := &JobRecord{
		Key:       job.Key(),
		Job:       job,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}
	if err := in.store.SaveRecord(rec); err != nil {
		// The status record is advisory; the queue is the source of truth.
		log.WithField("job", rec.Key).Warnf("Failed to save job record: %v", err)
	}

	if err := in.queue.Publish(ctx, job); err != nil {
		// The job never reached the broker: the status surface must not
		// keep claiming it is queued.
		rec.Status = JobStatusFailed
		rec.Error = err.Error()
		if saveErr := in.store.SaveRecord(rec); saveErr != nil {
			log.WithField("job", rec.Key).Warnf("Failed to mark job record failed: %v", saveErr)
		}
		return Reply{}, fmt.Errorf("publish job %s: %w", rec.Key, err)
	}
	log.WithFields(log.Fields{"job": rec.Key, "user": requesterID}).Infof("Queued download: %s", text)

	return Reply{
		Text:   fmt.Sprintf("YouTube URL added to queue: %s", text),
		Queued: true,
		URL:    text,
		JobKey: rec.Key,
	}, nil
}

// handleCommand answers the administrative commands; everything else falls
// through to URL evaluation.
func (in *Intake) handleCommand(text string) (Reply, bool) {
	switch {
	case text == "/help":
		return Reply{Text: helpText}, true
	case text == "/start":
		return Reply{Text: "Welcome to the YouTube podcast bot!"}, true
	case strings.HasPrefix(text, "/get "):
		if echo := strings.TrimSpace(strings.TrimPrefix(text, "/get ")); echo != "" {
			return Reply{Text: echo}, true
		}
		return Reply{Text: "Usage: /get <text>"}, true
	case text == "/get":
		return Reply{Text: "Usage: /get <text>"}, true
	}
	return Reply{}, false
}

// isDownloadRequest reports whether the text is an absolute URL on a
// recognized content host.
func (in *Intake) isDownloadRequest(text string) bool {
	if strings.ContainsAny(text, " \t\n") {
		return false
	}
	u, err := url.Parse(text)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return in.allowedHosts[strings.ToLower(u.Hostname())]
}
