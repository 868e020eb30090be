// shared/errors.go
package shared

import "errors"

// Failure kinds, one per pipeline stage that can go wrong. Callers classify
// with errors.Is; the wrapped cause carries the detail (stderr text, IO error).
var (
	// ErrIgnoredInput marks chat text that is not a download request.
	ErrIgnoredInput = errors.New("input is not a download request")

	// ErrQueueUnavailable marks a publish/consume/ack failure against the broker.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrMetadataFetchFailed marks a non-zero exit from the tool's metadata mode.
	ErrMetadataFetchFailed = errors.New("metadata fetch failed")

	// ErrMetadataParseFailed marks unparsable JSON on the tool's stdout.
	ErrMetadataParseFailed = errors.New("metadata parse failed")

	// ErrDownloadFailed marks a non-zero exit from the tool's download mode.
	ErrDownloadFailed = errors.New("media download failed")

	// ErrMalformedDocument marks a feed document whose insertion anchor cannot
	// be located. The append fails rather than guessing a splice point.
	ErrMalformedDocument = errors.New("malformed feed document")

	// ErrDocumentIO marks a read/write failure while rewriting a feed document.
	ErrDocumentIO = errors.New("feed document io failure")
)
