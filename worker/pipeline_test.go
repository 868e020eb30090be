package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"youtube-podcast-queue/shared"
)

type fakeFetcher struct {
	meta       *shared.Metadata
	metaErr    error
	mediaErr   error
	metaCalls  int
	mediaCalls int
}

func (f *fakeFetcher) FetchMetadata(context.Context, string) (*shared.Metadata, error) {
	f.metaCalls++
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	meta := *f.meta
	return &meta, nil
}

func (f *fakeFetcher) FetchMedia(_ context.Context, _ string, meta *shared.Metadata) (string, error) {
	f.mediaCalls++
	if f.mediaErr != nil {
		return "", f.mediaErr
	}
	return meta.MediaFileName(), nil
}

type testRig struct {
	cfg      *shared.Config
	queue    *shared.InMemoryQueue
	store    *shared.InMemoryJobStore
	feeds    *shared.FeedStore
	fetcher  *fakeFetcher
	pipeline *Pipeline
	intake   *shared.Intake

	deliveries <-chan shared.Delivery
}

func newTestRig(t *testing.T, fetcher *fakeFetcher) *testRig {
	t.Helper()
	cfg := &shared.Config{
		MaxWorkers:  1,
		MaxAttempts: 3,
		FeedDir:     t.TempDir(),
	}
	queue := shared.NewInMemoryQueue(10)
	t.Cleanup(func() { queue.Close() })
	store := shared.NewInMemoryJobStore()
	feeds := shared.NewFeedStore(cfg)
	return &testRig{
		cfg:      cfg,
		queue:    queue,
		store:    store,
		feeds:    feeds,
		fetcher:  fetcher,
		pipeline: NewPipeline(cfg, queue, store, fetcher, feeds, shared.NopNotifier{}),
		intake:   shared.NewIntake(queue, store, []string{"www.youtube.com", "youtube.com", "youtu.be"}),
	}
}

// nextDelivery reads from a single long-lived subscription, the way the
// worker's consume loop does.
func (r *testRig) nextDelivery(t *testing.T, ctx context.Context) shared.Delivery {
	t.Helper()
	if r.deliveries == nil {
		deliveries, err := r.queue.Consume(ctx)
		require.NoError(t, err)
		r.deliveries = deliveries
	}
	select {
	case d := <-r.deliveries:
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return shared.Delivery{}
	}
}

func parseFeed(t *testing.T, path string) *gofeed.Feed {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	feed, err := gofeed.NewParser().ParseString(string(b))
	require.NoError(t, err)
	return feed
}

// End-to-end: a chat message becomes one feed entry for that user.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig := newTestRig(t, &fakeFetcher{meta: &shared.Metadata{Title: "Sample", Uploader: "Bob", Ext: "mp4"}})

	reply, err := rig.intake.Submit(ctx, "https://www.youtube.com/watch?v=abc123", "42")
	require.NoError(t, err)
	require.True(t, reply.Queued)

	d := rig.nextDelivery(t, ctx)
	payload, err := d.Job.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://www.youtube.com/watch?v=abc123","user_id":"42"}`, string(payload))

	rig.pipeline.Process(ctx, d)

	feed := parseFeed(t, rig.feeds.Path("42"))
	require.Len(t, feed.Items, 1)
	item := feed.Items[0]
	assert.Equal(t, "Sample", item.Title)
	require.NotNil(t, item.ITunesExt)
	assert.Equal(t, "Bob", item.ITunesExt.Author)
	assert.Equal(t, "0", item.ITunesExt.Duration)
	require.Len(t, item.Enclosures, 1)
	assert.Equal(t, "0", item.Enclosures[0].Length)
	assert.Equal(t, "Sample.mp4", item.Enclosures[0].URL)

	// The delivery was acked: nothing comes back after a simulated crash.
	assert.Zero(t, rig.queue.Redeliver())

	rec, err := rig.store.GetRecord(d.Job.Key())
	require.NoError(t, err)
	assert.Equal(t, shared.JobStatusCompleted, rec.Status)
}

// A failing tool must leave the delivery for redelivery, then dead-letter it
// once attempts run out. The pipeline itself never panics or stops.
func TestPipelineRetriesThenDeadLetters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{metaErr: fmt.Errorf("%w: exit status 1: ERROR: unavailable", shared.ErrMetadataFetchFailed)}
	rig := newTestRig(t, fetcher)

	require.NoError(t, rig.queue.Publish(ctx, shared.Job{URL: "https://youtu.be/x", UserID: "42"}))
	d := rig.nextDelivery(t, ctx)

	// Attempts 1 and 2: failure leaves the message unacked.
	for attempt := 1; attempt < rig.cfg.MaxAttempts; attempt++ {
		rig.pipeline.Process(ctx, d)
		require.Equal(t, 1, rig.queue.Redeliver(), "attempt %d must leave the job pending", attempt)
		d = rig.nextDelivery(t, ctx)
	}

	// Final attempt: exhausted, routed to the dead letter queue and acked.
	rig.pipeline.Process(ctx, d)
	assert.Zero(t, rig.queue.Redeliver())
	require.Len(t, rig.queue.DeadLetters(), 1)
	assert.Equal(t, "https://youtu.be/x", rig.queue.DeadLetters()[0].URL)

	rec, err := rig.store.GetRecord(d.Job.Key())
	require.NoError(t, err)
	assert.Equal(t, shared.JobStatusDeadLettered, rec.Status)
	assert.Equal(t, rig.cfg.MaxAttempts, rec.Attempts)
	assert.Contains(t, rec.Error, "unavailable")

	// No feed document was created for the failed job.
	_, statErr := os.Stat(rig.feeds.Path("42"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestPipelineMediaFailureTakesFailurePath(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{
		meta:     &shared.Metadata{Title: "Sample", Uploader: "Bob", Ext: "mp4"},
		mediaErr: fmt.Errorf("%w: exit status 2", shared.ErrDownloadFailed),
	}
	rig := newTestRig(t, fetcher)

	require.NoError(t, rig.queue.Publish(ctx, shared.Job{URL: "https://youtu.be/y", UserID: "42"}))
	d := rig.nextDelivery(t, ctx)
	rig.pipeline.Process(ctx, d)

	assert.Equal(t, 1, fetcher.metaCalls)
	assert.Equal(t, 1, fetcher.mediaCalls)
	rec, err := rig.store.GetRecord(d.Job.Key())
	require.NoError(t, err)
	assert.Equal(t, shared.JobStatusFailed, rec.Status)
	assert.Equal(t, 1, rig.queue.Redeliver(), "failed job stays pending for retry")
}

// A redelivered duplicate of an already-applied delivery must not produce a
// second feed entry.
func TestPipelineDeduplicatesRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig := newTestRig(t, &fakeFetcher{meta: &shared.Metadata{Title: "Sample", Uploader: "Bob", Ext: "mp4"}})

	require.NoError(t, rig.queue.Publish(ctx, shared.Job{URL: "https://youtu.be/z", UserID: "42"}))
	d := rig.nextDelivery(t, ctx)

	rig.pipeline.Process(ctx, d)
	rig.pipeline.Process(ctx, d) // same delivery arrives again

	feed := parseFeed(t, rig.feeds.Path("42"))
	assert.Len(t, feed.Items, 1, "duplicate delivery must be collapsed")
	assert.Equal(t, 1, rig.fetcher.metaCalls, "duplicate must not re-run the external tool")
}

// Two distinct submissions of the same URL are separate jobs and both append.
func TestPipelineKeepsDistinctSubmissions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig := newTestRig(t, &fakeFetcher{meta: &shared.Metadata{Title: "Sample", Uploader: "Bob", Ext: "mp4"}})

	for i := 0; i < 2; i++ {
		_, err := rig.intake.Submit(ctx, "https://youtu.be/same", "42")
		require.NoError(t, err)
		d := rig.nextDelivery(t, ctx)
		rig.pipeline.Process(ctx, d)
	}

	feed := parseFeed(t, rig.feeds.Path("42"))
	assert.Len(t, feed.Items, 2)
}
