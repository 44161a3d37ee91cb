// Package library scans a local directory of audio files into a track
// catalog and serves those files over HTTP so a cast device can stream
// them.
package library

import (
	"crypto/sha1"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.senan.xyz/taglib"

	"go2tv.app/castqueue/internal/domain"
)

var audioContentTypes = map[string]string{
	".mp3":  "audio/mp3",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
}

type entry struct {
	track domain.Track
	path  string
	ext   string
	route string
}

// Catalog holds the scanned tracks. Track IDs are derived from the
// file's path relative to the library root, so they stay stable across
// rescans and restarts.
type Catalog struct {
	root   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	baseURL string
}

func NewCatalog(root string, logger *slog.Logger) *Catalog {
	return &Catalog{
		root:    root,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Scan walks the library root and rebuilds the catalog. Files whose
// tags cannot be read fall back to filename-derived metadata rather
// than being skipped.
func (c *Catalog) Scan() error {
	entries := make(map[string]*entry)
	var order []string

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		contentType, ok := audioContentTypes[ext]
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			rel = path
		}
		id := trackID(rel)

		track := domain.Track{
			ID:          id,
			Title:       titleFromFilename(path),
			ContentType: contentType,
		}
		c.applyTags(path, &track)

		entries[id] = &entry{
			track: track,
			path:  path,
			ext:   ext,
			route: "/media-" + strings.TrimPrefix(id, "trk_") + ext,
		}
		order = append(order, id)
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(order, func(i, j int) bool {
		return entries[order[i]].track.Title < entries[order[j]].track.Title
	})

	c.mu.Lock()
	c.entries = entries
	c.order = order
	baseURL := c.baseURL
	c.mu.Unlock()

	if baseURL != "" {
		c.setBaseURL(baseURL)
	}

	if c.logger != nil {
		c.logger.Info("library_scanned", slog.String("root", c.root), slog.Int("tracks", len(order)))
	}
	return nil
}

func (c *Catalog) applyTags(path string, track *domain.Track) {
	tags, err := taglib.ReadTags(path)
	if err == nil {
		if v := firstTag(tags, taglib.Title); v != "" {
			track.Title = v
		}
		if v := firstTag(tags, taglib.Artist); v != "" {
			track.Artist = v
		}
	} else if c.logger != nil {
		c.logger.Debug("tag_read_failed", slog.String("path", path), slog.String("error", err.Error()))
	}

	props, err := taglib.ReadProperties(path)
	if err == nil && props.Length > 0 {
		track.DurationSeconds = props.Length.Seconds()
	}
}

// TrackByID returns the track for id. Stream URLs are only populated
// after SetBaseURL, which happens once a device connection pins the
// serving address.
func (c *Catalog) TrackByID(id string) (domain.Track, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return domain.Track{}, domain.NewCastError(domain.KindTrackNotFound, "", "no track with id %q", id)
	}
	return e.track, nil
}

// Tracks returns the catalog sorted by title.
func (c *Catalog) Tracks() []domain.Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.Map(c.order, func(id string, _ int) domain.Track {
		return c.entries[id].track
	})
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// setBaseURL mints a streaming URL for every track. Called when the
// HTTP server comes up on a device-reachable address.
func (c *Catalog) setBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
	for _, e := range c.entries {
		e.track.StreamingURL = baseURL + e.route
	}
}

func (c *Catalog) routes() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	routes := make(map[string]string, len(c.entries))
	for _, e := range c.entries {
		routes[e.route] = e.path
	}
	return routes
}

func trackID(relPath string) string {
	sum := sha1.Sum([]byte(filepath.ToSlash(relPath)))
	return "trk_" + hex.EncodeToString(sum[:8])
}

func titleFromFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func firstTag(tags map[string][]string, key string) string {
	for _, v := range tags[key] {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
