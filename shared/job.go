// shared/job.go
package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Job is the queue wire record: exactly the URL to fetch and the identity of
// the user whose feed receives the result. The JSON form is the broker payload.
type Job struct {
	URL    string `json:"url"`
	UserID string `json:"user_id"`
}

// Encode serializes the job to its canonical queue payload.
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses a queue payload back into a Job.
func DecodeJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Key derives a stable identifier from the canonical payload. The wire format
// carries no job ID, so status records are keyed by content.
func (j Job) Key() string {
	b, _ := j.Encode()
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// Sentinel values for metadata fields the external tool did not report.
const (
	UnknownTitle    = "Untitled"
	UnknownUploader = "Unknown"
	DefaultMediaExt = "mp4"
)

// Metadata holds the best-effort fields extracted from the external tool's
// JSON output. Missing numerics are 0, missing strings are the sentinels above.
type Metadata struct {
	Title           string `json:"title"`
	Uploader        string `json:"uploader"`
	DurationSeconds uint64 `json:"duration"`
	FilesizeBytes   uint64 `json:"filesize"`
	Ext             string `json:"ext"`
}

// MediaFileName is the output filename the download mode writes, derived from
// the title and extension per the tool's <title>.<extension> template.
func (m Metadata) MediaFileName() string {
	return m.Title + "." + m.Ext
}

// FeedItem is one entry of a user's podcast feed, derived deterministically
// from a (Job, Metadata, media file) triple. Once appended it is never edited.
type FeedItem struct {
	Title           string
	Author          string
	Summary         string
	EnclosureURL    string
	EnclosureLength uint64
	GUID            string
	PubDate         string // RFC-2822 form
	DurationSeconds uint64
}

// NewFeedItem builds the feed entry for a completed download. The summary
// reuses the title and the GUID is the source URL.
func NewFeedItem(job Job, meta Metadata, mediaFile string, now time.Time) FeedItem {
	return FeedItem{
		Title:           meta.Title,
		Author:          meta.Uploader,
		Summary:         meta.Title,
		EnclosureURL:    mediaFile,
		EnclosureLength: meta.FilesizeBytes,
		GUID:            job.URL,
		PubDate:         now.UTC().Format(time.RFC1123Z),
		DurationSeconds: meta.DurationSeconds,
	}
}

type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusDeadLettered JobStatus = "dead_lettered"
)

// JobRecord tracks the lifecycle of a submitted job for the status surface.
type JobRecord struct {
	Key         string     `json:"key"`
	Job         Job        `json:"job"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
