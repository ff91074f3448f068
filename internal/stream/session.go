package stream

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/radio-recorder/internal/audio"
)

// Key identifies one in-progress transmission
type Key struct {
	Network       string
	SourceID      string
	DestinationID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%s-%s", k.Network, k.SourceID, k.DestinationID)
}

// Session is an open recording of one transmission.
// It is only touched while its registry shard is locked.
type Session struct {
	ID        uuid.UUID
	Key       Key
	Path      string
	CreatedAt time.Time

	lastActivity time.Time
	packets      uint64
	bytes        uint64

	writer *audio.WAVWriter
}

func newSession(key Key, path string, createdAt time.Time, writer *audio.WAVWriter) *Session {
	return &Session{
		ID:           uuid.New(),
		Key:          key,
		Path:         path,
		CreatedAt:    createdAt,
		lastActivity: createdAt,
		writer:       writer,
	}
}

// write appends the payload and refreshes the activity timestamp
func (s *Session) write(payload []byte, now time.Time) error {
	s.lastActivity = now
	s.packets++

	n, err := s.writer.Write(payload)
	s.bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write to %s: %w", s.Path, err)
	}
	return nil
}

// idleFor reports how long the session has been silent at now
func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.lastActivity)
}

// duration is the span between the first and the last packet
func (s *Session) duration() time.Duration {
	return s.lastActivity.Sub(s.CreatedAt)
}

func (s *Session) finalize() error {
	return s.writer.Close()
}

// Info returns a snapshot of the session for monitoring
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:            s.ID.String(),
		Network:       s.Key.Network,
		SourceID:      s.Key.SourceID,
		DestinationID: s.Key.DestinationID,
		Path:          s.Path,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.lastActivity,
		Packets:       s.packets,
		Bytes:         s.bytes,
	}
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	ID            string    `json:"id"`
	Network       string    `json:"network"`
	SourceID      string    `json:"source_id"`
	DestinationID string    `json:"destination_id"`
	Path          string    `json:"path"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	Packets       uint64    `json:"packets"`
	Bytes         uint64    `json:"bytes"`
}
