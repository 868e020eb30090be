// worker/pipeline.go
package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"youtube-podcast-queue/shared"
)

// Pipeline drives one delivery end-to-end: metadata fetch, media fetch, feed
// append, acknowledgment. A failure never crashes the consumer; the job either
// stays pending for redelivery or is dead-lettered once attempts run out.
type Pipeline struct {
	cfg      *shared.Config
	queue    shared.MessageQueueClient
	store    shared.JobStoreClient
	fetcher  shared.MediaFetcher
	feeds    *shared.FeedStore
	notifier shared.Notifier
}

func NewPipeline(cfg *shared.Config, queue shared.MessageQueueClient, store shared.JobStoreClient,
	fetcher shared.MediaFetcher, feeds *shared.FeedStore, notifier shared.Notifier) *Pipeline {
	return &Pipeline{cfg: cfg, queue: queue, store: store, fetcher: fetcher, feeds: feeds, notifier: notifier}
}

// Process handles a single delivery. Only a successful append (or a detected
// duplicate, or dead-lettering) acknowledges the message.
func (p *Pipeline) Process(ctx context.Context, d shared.Delivery) {
	job := d.Job
	logger := log.WithFields(log.Fields{"delivery": d.ID, "user": job.UserID, "url": job.URL})
	logger.Info("Processing job")

	// At-least-once means this exact delivery may come around again after a
	// consumer crash. If its append already happened, just re-ack.
	if done, err := p.store.WasProcessed(d.ID); err == nil && done {
		logger.Info("Delivery already applied to feed, acknowledging duplicate")
		p.ack(ctx, d, logger)
		return
	}

	rec := p.loadRecord(job)
	rec.Attempts++
	now := time.Now()
	rec.Status = shared.JobStatusProcessing
	rec.StartedAt = &now
	p.saveRecord(rec, logger)

	meta, err := p.fetcher.FetchMetadata(ctx, job.URL)
	if err != nil {
		p.fail(ctx, d, rec, logger, err)
		return
	}
	logger.Infof("Metadata fetched: %q by %q", meta.Title, meta.Uploader)

	mediaFile, err := p.fetcher.FetchMedia(ctx, job.URL, meta)
	if err != nil {
		p.fail(ctx, d, rec, logger, err)
		return
	}
	logger.Infof("Media downloaded: %s", mediaFile)

	item := shared.NewFeedItem(job, *meta, mediaFile, time.Now())
	if err := p.feeds.Append(job.UserID, item); err != nil {
		p.fail(ctx, d, rec, logger, err)
		return
	}

	if first, err := p.store.MarkProcessed(d.ID); err != nil {
		logger.Warnf("Failed to record processed marker: %v", err)
	} else if !first {
		logger.Info("Concurrent duplicate beat this delivery to the feed")
	}

	completed := time.Now()
	rec.Status = shared.JobStatusCompleted
	rec.Error = ""
	rec.CompletedAt = &completed
	p.saveRecord(rec, logger)

	p.notify(ctx, job.UserID, fmt.Sprintf("Added to your feed: %s", item.Title), logger)
	p.ack(ctx, d, logger)
	logger.Infof("Job completed: %s", item.Title)
}

// fail logs the cause and decides between redelivery and the dead letter
// queue. Leaving the delivery unacked keeps it pending until the reclaim
// window passes, which is the bounded retry.
func (p *Pipeline) fail(ctx context.Context, d shared.Delivery, rec *shared.JobRecord, logger *log.Entry, cause error) {
	logger.Errorf("Job failed (attempt %d/%d): %v", rec.Attempts, p.cfg.MaxAttempts, cause)
	rec.Status = shared.JobStatusFailed
	rec.Error = cause.Error()

	if rec.Attempts < p.cfg.MaxAttempts {
		p.saveRecord(rec, logger)
		return // unacked: the broker redelivers after the reclaim window
	}

	if err := p.queue.DeadLetter(ctx, d); err != nil {
		logger.Errorf("Failed to dead-letter delivery: %v", err)
		p.saveRecord(rec, logger)
		return
	}
	now := time.Now()
	rec.Status = shared.JobStatusDeadLettered
	rec.CompletedAt = &now
	p.saveRecord(rec, logger)
	p.notify(ctx, d.Job.UserID, fmt.Sprintf("Download failed, giving up: %s", d.Job.URL), logger)
	logger.Warn("Job moved to dead letter queue")
}

// loadRecord fetches the job's status record, synthesizing one when the
// publisher's save never happened (the queue, not the store, is authoritative).
func (p *Pipeline) loadRecord(job shared.Job) *shared.JobRecord {
	rec, err := p.store.GetRecord(job.Key())
	if err != nil {
		return &shared.JobRecord{
			Key:       job.Key(),
			Job:       job,
			Status:    shared.JobStatusQueued,
			CreatedAt: time.Now(),
		}
	}
	return rec
}

func (p *Pipeline) saveRecord(rec *shared.JobRecord, logger *log.Entry) {
	if err := p.store.SaveRecord(rec); err != nil {
		logger.Warnf("Failed to save job record: %v", err)
	}
}

func (p *Pipeline) notify(ctx context.Context, userID, text string, logger *log.Entry) {
	if err := p.notifier.Notify(ctx, userID, text); err != nil {
		logger.Warnf("Failed to notify user: %v", err)
	}
}

func (p *Pipeline) ack(ctx context.Context, d shared.Delivery, logger *log.Entry) {
	if err := d.Ack(ctx); err != nil {
		// The broker will redeliver; the processed marker makes the retry a no-op.
		logger.Errorf("Failed to acknowledge delivery: %v", err)
	}
}
