// shared/downloader.go
package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"
)

// MediaFetcher is the contract for resolving a URL into metadata and a media
// file. Both calls are synchronous, fallible, and retry-free; retries are the
// worker's concern.
type MediaFetcher interface {
	FetchMetadata(ctx context.Context, url string) (*Metadata, error)
	FetchMedia(ctx context.Context, url string, meta *Metadata) (string, error)
}

// YtDlpFetcher drives the external yt-dlp binary. Every invocation runs under
// a bounded deadline so a hung download cannot block a worker forever.
type YtDlpFetcher struct {
	binaryPath  string
	downloadDir string
	timeout     time.Duration
}

func NewYtDlpFetcher(cfg *Config) *YtDlpFetcher {
	return &YtDlpFetcher{
		binaryPath:  cfg.YtDlpPath,
		downloadDir: cfg.DownloadDir,
		timeout:     time.Duration(cfg.FetchTimeoutSec) * time.Second,
	}
}

// FetchMetadata invokes the tool in metadata-only mode (-J) and parses the
// single JSON object it prints. Missing fields get sentinel defaults.
func (f *YtDlpFetcher) FetchMetadata(ctx context.Context, url string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.binaryPath, "-J", "--no-warnings", url)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrMetadataFetchFailed, err, stderr.String())
	}

	var raw struct {
		Title    string  `json:"title"`
		Uploader string  `json:"uploader"`
		Duration float64 `json:"duration"`
		Filesize uint64  `json:"filesize"`
		Ext      string  `json:"ext"`
	}
	if err := json.Unmarshal(out.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataParseFailed, err)
	}

	meta := &Metadata{
		Title:           raw.Title,
		Uploader:        raw.Uploader,
		DurationSeconds: uint64(raw.Duration),
		FilesizeBytes:   raw.Filesize,
		Ext:             raw.Ext,
	}
	meta.applyDefaults()
	return meta, nil
}

// FetchMedia invokes the tool in download mode with the <title>.<extension>
// output template and returns the filename it wrote.
func (f *YtDlpFetcher) FetchMedia(ctx context.Context, url string, meta *Metadata) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := os.MkdirAll(f.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create download dir: %v", ErrDownloadFailed, err)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, f.binaryPath, "-o", "%(title)s.%(ext)s", "--no-warnings", url)
	cmd.Dir = f.downloadDir
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrDownloadFailed, err, stderr.String())
	}
	log.WithField("url", url).Infof("Download finished in %.1fs", time.Since(start).Seconds())

	return meta.MediaFileName(), nil
}

// applyDefaults fills sentinel values for fields the tool did not report.
func (m *Metadata) applyDefaults() {
	if m.Title == "" {
		m.Title = UnknownTitle
	}
	if m.Uploader == "" {
		m.Uploader = UnknownUploader
	}
	if m.Ext == "" {
		m.Ext = DefaultMediaExt
	}
}
