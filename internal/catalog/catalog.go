package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/radio-recorder/internal/audio"
	"github.com/skypro1111/radio-recorder/internal/metrics"
	"github.com/skypro1111/radio-recorder/internal/storage"
	"github.com/skypro1111/radio-recorder/internal/stream"
)

// DefaultTTL is how long a listing is reused before the tree is scanned again
const DefaultTTL = 5 * time.Second

// Recording is one finalized or in-progress recording file
type Recording struct {
	Talkgroup string    `json:"talkgroup"`
	RadioID   string    `json:"radio_id"`
	File      string    `json:"file"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size_bytes"`
	Duration  float64   `json:"duration_seconds"`
	Path      string    `json:"path"`
}

// Talkgroup groups the recordings of one destination, newest first
type Talkgroup struct {
	Name       string      `json:"name"`
	Recordings []Recording `json:"recordings"`
}

// Network groups the talkgroups of one network
type Network struct {
	Name       string      `json:"name"`
	Talkgroups []Talkgroup `json:"talkgroups"`
}

// Catalog lists the recordings tree and caches the result for a bounded time
type Catalog struct {
	layout  *storage.Layout
	ttl     time.Duration
	clock   stream.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	networks []Network
	updated  time.Time
}

// New creates a catalog over layout's base directory. A zero ttl uses DefaultTTL.
func New(layout *storage.Layout, ttl time.Duration, clock stream.Clock, logger *slog.Logger, m *metrics.Metrics) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = stream.SystemClock()
	}
	return &Catalog{
		layout:  layout,
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
}

// Networks returns the cached listing, scanning the tree if it is older than the TTL.
// The returned slices must not be modified.
func (c *Catalog) Networks(ctx context.Context) ([]Network, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.updated.IsZero() && c.clock.Now().Sub(c.updated) < c.ttl {
		c.metrics.RecordCatalogCacheHit()
		return c.networks, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh scans the tree now and replaces the cache
func (c *Catalog) Refresh(ctx context.Context) ([]Network, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// Run refreshes the cache every TTL until ctx is cancelled
func (c *Catalog) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.ttl)
	defer ticker.Stop()

	if _, err := c.Refresh(ctx); err != nil {
		c.logger.Warn("Failed to list recordings", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Failed to list recordings", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Catalog) refreshLocked(ctx context.Context) ([]Network, error) {
	networks, total, skipped, err := c.scan(ctx)
	if err != nil {
		return nil, err
	}

	c.networks = networks
	c.updated = c.clock.Now()
	c.metrics.RecordCatalogRefresh(total, skipped)

	c.logger.Debug("Recordings listing refreshed",
		slog.Int("networks", len(networks)),
		slog.Int("recordings", total),
		slog.Int("skipped", skipped),
	)
	return networks, nil
}

func (c *Catalog) scan(ctx context.Context) (networks []Network, total, skipped int, err error) {
	base := c.layout.BaseDir()

	entries, err := os.ReadDir(base)
	if errors.Is(err, os.ErrNotExist) {
		return []Network{}, 0, 0, nil
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read recordings directory %s: %w", base, err)
	}

	networks = []Network{}
	for _, networkEntry := range entries {
		if !networkEntry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, err
		}

		network := Network{Name: networkEntry.Name(), Talkgroups: []Talkgroup{}}
		networkDir := filepath.Join(base, network.Name)

		talkgroups, err := os.ReadDir(networkDir)
		if err != nil {
			skipped++
			c.logger.Warn("Skipping unreadable network directory",
				slog.String("path", networkDir),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, tgEntry := range talkgroups {
			if !tgEntry.IsDir() {
				continue
			}

			tg, tgSkipped, err := c.scanTalkgroup(network.Name, tgEntry.Name())
			skipped += tgSkipped
			if err != nil {
				skipped++
				c.logger.Warn("Skipping unreadable talkgroup directory",
					slog.String("network", network.Name),
					slog.String("talkgroup", tgEntry.Name()),
					slog.String("error", err.Error()),
				)
				continue
			}

			total += len(tg.Recordings)
			network.Talkgroups = append(network.Talkgroups, tg)
		}

		networks = append(networks, network)
	}

	return networks, total, skipped, nil
}

func (c *Catalog) scanTalkgroup(network, talkgroup string) (Talkgroup, int, error) {
	dir := filepath.Join(c.layout.BaseDir(), network, talkgroup)
	files, err := os.ReadDir(dir)
	if err != nil {
		return Talkgroup{}, 0, err
	}

	tg := Talkgroup{Name: talkgroup, Recordings: []Recording{}}
	skipped := 0

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), storage.RecordingExt) {
			continue
		}

		info, err := f.Info()
		if err != nil {
			skipped++
			c.logger.Warn("Error reading recording",
				slog.String("path", filepath.Join(dir, f.Name())),
				slog.String("error", err.Error()),
			)
			continue
		}

		rec := Recording{
			Talkgroup: talkgroup,
			RadioID:   storage.ParseSourceID(f.Name()),
			File:      f.Name(),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
			Path:      storage.RelativeURL(network, talkgroup, f.Name()),
		}

		// Recordings still being written report a zero length header
		if wav, err := audio.ReadWAVInfo(filepath.Join(dir, f.Name())); err == nil {
			rec.Duration = wav.Duration
		}

		tg.Recordings = append(tg.Recordings, rec)
	}

	sort.SliceStable(tg.Recordings, func(i, j int) bool {
		return newerFirst(tg.Recordings[i], tg.Recordings[j])
	})

	return tg, skipped, nil
}

// newerFirst orders by mtime, then by the creation time in the file name
func newerFirst(a, b Recording) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}

	at, aok := storage.ParseTimestamp(a.File)
	bt, bok := storage.ParseTimestamp(b.File)
	if aok && bok && !at.Equal(bt) {
		return at.After(bt)
	}
	return a.File > b.File
}
