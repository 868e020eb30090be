// shared/feedstore.go
package shared

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
)

// feedTemplate is the canonical empty-channel document created on first use.
// The artwork reference doubles as the insertion anchor: it is the last
// element of the channel header, so new items spliced right after it come
// before all existing items (newest-first).
const insertionAnchor = `<itunes:image href="https://example.com/podcast.jpg"/>`

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
    <title>YouTube Podcast</title>
    <description>Downloaded YouTube Videos as Podcast</description>
    <language>en-us</language>
    <itunes:author>YouTube Downloader</itunes:author>
    <itunes:summary>YouTube videos converted to podcast format</itunes:summary>
    <itunes:owner>
        <itunes:name>YouTube Downloader</itunes:name>
        <itunes:email>noreply@example.com</itunes:email>
    </itunes:owner>
    <itunes:explicit>no</itunes:explicit>
    <itunes:category text="Technology"/>
    ` + insertionAnchor + `
</channel>
</rss>
`

// FeedStore owns the per-user feed documents on disk. Appends to the same
// user's document are serialized; different users' documents are independent.
type FeedStore struct {
	dir    string
	parser *gofeed.Parser

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFeedStore(cfg *Config) *FeedStore {
	return &FeedStore{
		dir:    cfg.FeedDir,
		parser: gofeed.NewParser(),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Path returns the on-disk location of a user's feed document.
func (s *FeedStore) Path(userID string) string {
	return filepath.Join(s.dir, userID+".rss")
}

// Append inserts the item at the head of the user's feed, creating the
// document from the canonical template on first use. The on-disk file is
// replaced atomically; a concurrent reader sees either the old document or
// the new one, never a partial write.
func (s *FeedStore) Append(userID string, item FeedItem) error {
	if userID == "" || strings.ContainsAny(userID, `/\`) {
		return fmt.Errorf("%w: invalid user id %q", ErrDocumentIO, userID)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	path := s.Path(userID)
	content, err := s.loadOrCreate(path)
	if err != nil {
		return err
	}

	// Splice immediately after the channel header. A document without the
	// anchor is malformed: failing here beats producing a corrupted merge.
	pos := strings.Index(content, insertionAnchor)
	if pos < 0 {
		return fmt.Errorf("%w: insertion anchor not found in %s", ErrMalformedDocument, path)
	}
	pos += len(insertionAnchor)
	updated := content[:pos] + renderItem(item) + content[pos:]

	// The updated document must still parse as a feed before it is allowed
	// to replace the old one.
	if _, err := s.parser.ParseString(updated); err != nil {
		return fmt.Errorf("%w: updated document does not parse: %v", ErrMalformedDocument, err)
	}

	return s.replace(path, updated)
}

func (s *FeedStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

func (s *FeedStore) loadOrCreate(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return feedTemplate, nil
		}
		return "", fmt.Errorf("%w: read %s: %v", ErrDocumentIO, path, err)
	}
	return string(b), nil
}

// replace writes the new content next to the target and renames it into
// place. Rename within one directory is the all-or-nothing swap.
func (s *FeedStore) replace(path, content string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create feed dir: %v", ErrDocumentIO, err)
	}
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrDocumentIO, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrDocumentIO, path, err)
	}
	return nil
}

func renderItem(item FeedItem) string {
	return fmt.Sprintf(`
    <item>
        <title>%s</title>
        <itunes:author>%s</itunes:author>
        <itunes:summary>%s</itunes:summary>
        <enclosure url="%s" type="video/mp4" length="%d"/>
        <guid>%s</guid>
        <pubDate>%s</pubDate>
        <itunes:duration>%d</itunes:duration>
        <itunes:explicit>no</itunes:explicit>
    </item>`,
		xmlEscape(item.Title),
		xmlEscape(item.Author),
		xmlEscape(item.Summary),
		xmlEscape(item.EnclosureURL),
		item.EnclosureLength,
		xmlEscape(item.GUID),
		xmlEscape(item.PubDate),
		item.DurationSeconds)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}
