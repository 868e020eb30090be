package shared

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeTool installs a shell script standing in for the yt-dlp binary.
func writeFakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool scripts require a unix shell")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newTestFetcher(t *testing.T, script string) *YtDlpFetcher {
	t.Helper()
	return NewYtDlpFetcher(&Config{
		YtDlpPath:       writeFakeTool(t, script),
		DownloadDir:     t.TempDir(),
		FetchTimeoutSec: 5,
	})
}

func TestFetchMetadataParsesToolOutput(t *testing.T) {
	f := newTestFetcher(t, `echo '{"title":"Sample","uploader":"Bob","duration":90.7,"filesize":2048,"ext":"webm"}'`)

	meta, err := f.FetchMetadata(context.Background(), "https://youtu.be/x")
	require.NoError(t, err)
	assert.Equal(t, "Sample", meta.Title)
	assert.Equal(t, "Bob", meta.Uploader)
	assert.Equal(t, uint64(90), meta.DurationSeconds)
	assert.Equal(t, uint64(2048), meta.FilesizeBytes)
	assert.Equal(t, "webm", meta.Ext)
	assert.Equal(t, "Sample.webm", meta.MediaFileName())
}

func TestFetchMetadataDefaultsMissingFields(t *testing.T) {
	f := newTestFetcher(t, `echo '{"duration":null,"filesize":null}'`)

	meta, err := f.FetchMetadata(context.Background(), "https://youtu.be/x")
	require.NoError(t, err)
	assert.Equal(t, UnknownTitle, meta.Title)
	assert.Equal(t, UnknownUploader, meta.Uploader)
	assert.Equal(t, uint64(0), meta.DurationSeconds)
	assert.Equal(t, uint64(0), meta.FilesizeBytes)
	assert.Equal(t, DefaultMediaExt, meta.Ext)
}

func TestFetchMetadataNonZeroExit(t *testing.T) {
	f := newTestFetcher(t, `echo "ERROR: video unavailable" >&2; exit 1`)

	_, err := f.FetchMetadata(context.Background(), "https://youtu.be/x")
	require.ErrorIs(t, err, ErrMetadataFetchFailed)
	assert.Contains(t, err.Error(), "video unavailable", "stderr text must be carried as the cause")
}

func TestFetchMetadataUnparsableOutput(t *testing.T) {
	f := newTestFetcher(t, `echo 'not json at all'`)

	_, err := f.FetchMetadata(context.Background(), "https://youtu.be/x")
	assert.ErrorIs(t, err, ErrMetadataParseFailed)
}

func TestFetchMediaReturnsDerivedFileName(t *testing.T) {
	f := newTestFetcher(t, `exit 0`)

	meta := &Metadata{Title: "Sample", Uploader: "Bob", Ext: "mp4"}
	name, err := f.FetchMedia(context.Background(), "https://youtu.be/x", meta)
	require.NoError(t, err)
	assert.Equal(t, "Sample.mp4", name)
}

func TestFetchMediaNonZeroExit(t *testing.T) {
	f := newTestFetcher(t, `echo "ERROR: network" >&2; exit 2`)

	meta := &Metadata{Title: "Sample", Uploader: "Bob", Ext: "mp4"}
	_, err := f.FetchMedia(context.Background(), "https://youtu.be/x", meta)
	require.ErrorIs(t, err, ErrDownloadFailed)
	assert.Contains(t, err.Error(), "network")
}

func TestFetchMetadataHonorsDeadline(t *testing.T) {
	f := NewYtDlpFetcher(&Config{
		YtDlpPath:       writeFakeTool(t, `sleep 10`),
		DownloadDir:     t.TempDir(),
		FetchTimeoutSec: 1,
	})

	_, err := f.FetchMetadata(context.Background(), "https://youtu.be/x")
	assert.ErrorIs(t, err, ErrMetadataFetchFailed, "a hung tool must surface as a tool failure, not block forever")
}
