package stream

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/skypro1111/radio-recorder/internal/audio"
	"github.com/skypro1111/radio-recorder/internal/metrics"
	"github.com/skypro1111/radio-recorder/internal/storage"
)

// DefaultIdleTimeout is the silence after which a transmission is considered over
const DefaultIdleTimeout = 2500 * time.Millisecond

// Registry maps transmission keys to open recording sessions.
//
// Sessions are partitioned into one shard per network. Every operation locks
// only the shard of the network it touches, so slow file I/O on one network
// never holds up packets or reaping on another.
type Registry struct {
	layout      *storage.Layout
	logger      *slog.Logger
	metrics     *metrics.Metrics
	clock       Clock
	idleTimeout time.Duration

	mu     sync.RWMutex
	shards map[string]*shard
}

type shard struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewRegistry creates an empty registry writing recordings under layout.
// A packet arriving for a session that has been silent longer than idleTimeout
// starts a new recording even if the reaper has not run yet; zero disables that check.
func NewRegistry(logger *slog.Logger, layout *storage.Layout, m *metrics.Metrics, clock Clock, idleTimeout time.Duration) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{
		layout:      layout,
		logger:      logger,
		metrics:     m,
		clock:       clock,
		idleTimeout: idleTimeout,
		shards:      make(map[string]*shard),
	}
}

func (r *Registry) shard(network string) *shard {
	r.mu.RLock()
	sh, ok := r.shards[network]
	r.mu.RUnlock()
	if ok {
		return sh
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sh, ok = r.shards[network]; !ok {
		sh = &shard{sessions: make(map[Key]*Session)}
		r.shards[network] = sh
	}
	return sh
}

// HandlePacket routes a packet to the session for its key, opening one on first use.
// On a write failure the session is abandoned and the error returned; the next
// packet for the key opens a fresh recording.
func (r *Registry) HandlePacket(network string, pkt Packet) error {
	key := Key{Network: network, SourceID: pkt.SourceID, DestinationID: pkt.DestinationID}

	sh := r.shard(network)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := r.clock.Now()

	session, exists := sh.sessions[key]
	if exists && r.idleTimeout > 0 && session.idleFor(now) > r.idleTimeout {
		delete(sh.sessions, key)
		r.finalize(session, metrics.ReasonIdle)
		exists = false
	}

	if !exists {
		var err error
		session, err = r.open(key, now)
		if err != nil {
			r.metrics.RecordPacketError(network)
			return err
		}
		sh.sessions[key] = session
	}

	if err := session.write(pkt.Payload, now); err != nil {
		delete(sh.sessions, key)
		r.finalize(session, metrics.ReasonWriteError)
		r.metrics.RecordPacketError(network)
		return err
	}

	r.metrics.RecordPacket(network, len(pkt.Payload))
	return nil
}

// open allocates the output file and starts a new session
func (r *Registry) open(key Key, now time.Time) (*Session, error) {
	alloc, err := r.layout.CreateRecording(key.Network, key.DestinationID, key.SourceID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate recording for %s: %w", key, err)
	}

	if alloc.DirCreated {
		r.logger.Info("Created directory for talkgroup",
			slog.String("network", key.Network),
			slog.String("destination_id", key.DestinationID),
		)
	}

	writer, err := audio.NewWAVWriter(alloc.File)
	if err != nil {
		alloc.File.Close()
		os.Remove(alloc.Path)
		return nil, fmt.Errorf("failed to start recording for %s: %w", key, err)
	}

	session := newSession(key, alloc.Path, alloc.CreatedAt, writer)
	r.metrics.RecordSessionOpened(key.Network)

	r.logger.Info("Started recording stream",
		slog.String("network", key.Network),
		slog.String("stream_key", key.String()),
		slog.String("session_id", session.ID.String()),
		slog.String("path", session.Path),
	)

	return session, nil
}

// finalize closes the session's container. Errors are logged and returned;
// the session is gone either way.
func (r *Registry) finalize(session *Session, reason string) error {
	err := session.finalize()
	r.metrics.RecordSessionClosed(session.Key.Network, reason, session.duration().Seconds())

	if err != nil {
		r.metrics.RecordFinalizeError(session.Key.Network)
		r.logger.Error("Failed to finalize recording",
			slog.String("network", session.Key.Network),
			slog.String("stream_key", session.Key.String()),
			slog.String("path", session.Path),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to finalize %s: %w", session.Path, err)
	}

	r.logger.Info("Ended recording stream",
		slog.String("network", session.Key.Network),
		slog.String("stream_key", session.Key.String()),
		slog.String("session_id", session.ID.String()),
		slog.String("path", session.Path),
		slog.String("reason", reason),
		slog.Uint64("packets", session.packets),
		slog.Uint64("bytes", session.bytes),
		slog.Duration("duration", session.duration()),
	)
	return nil
}

// SweepIdle finalizes every session of network silent for longer than threshold.
// It returns how many sessions were removed.
func (r *Registry) SweepIdle(network string, now time.Time, threshold time.Duration) (int, error) {
	sh := r.shard(network)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var result *multierror.Error
	removed := 0
	for key, session := range sh.sessions {
		if session.idleFor(now) <= threshold {
			continue
		}
		delete(sh.sessions, key)
		removed++
		if err := r.finalize(session, metrics.ReasonIdle); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return removed, result.ErrorOrNil()
}

// CloseNetwork finalizes and removes every session of network
func (r *Registry) CloseNetwork(network string) (int, error) {
	return r.closeShard(network, metrics.ReasonNetworkClosed)
}

// CloseAll finalizes every session of every network
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	networks := make([]string, 0, len(r.shards))
	for network := range r.shards {
		networks = append(networks, network)
	}
	r.mu.RUnlock()

	var result *multierror.Error
	for _, network := range networks {
		if _, err := r.closeShard(network, metrics.ReasonShutdown); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (r *Registry) closeShard(network, reason string) (int, error) {
	sh := r.shard(network)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var result *multierror.Error
	removed := 0
	for key, session := range sh.sessions {
		delete(sh.sessions, key)
		removed++
		if err := r.finalize(session, reason); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return removed, result.ErrorOrNil()
}

// ActiveCount returns the number of open sessions of network
func (r *Registry) ActiveCount(network string) int {
	sh := r.shard(network)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.sessions)
}

// TotalActive returns the number of open sessions across all networks
func (r *Registry) TotalActive() int {
	total := 0
	for _, network := range r.Networks() {
		total += r.ActiveCount(network)
	}
	return total
}

// Networks returns the names of networks that have seen traffic, sorted
func (r *Registry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]string, 0, len(r.shards))
	for network := range r.shards {
		networks = append(networks, network)
	}
	sort.Strings(networks)
	return networks
}

// Snapshot returns a copy of every open session, oldest first
func (r *Registry) Snapshot() []SessionInfo {
	var infos []SessionInfo
	for _, network := range r.Networks() {
		sh := r.shard(network)
		sh.mu.Lock()
		for _, session := range sh.sessions {
			infos = append(infos, session.Info())
		}
		sh.mu.Unlock()
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}
