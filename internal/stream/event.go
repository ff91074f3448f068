package stream

import "fmt"

// EventKind identifies what a network adapter observed
type EventKind uint8

const (
	// EventEstablished is emitted once the network session is usable
	EventEstablished EventKind = iota + 1
	// EventClosed is emitted exactly once when the network session terminates
	EventClosed
	// EventAudio carries one audio packet
	EventAudio
)

func (k EventKind) String() string {
	switch k {
	case EventEstablished:
		return "established"
	case EventClosed:
		return "closed"
	case EventAudio:
		return "audio"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Packet is one chunk of PCM audio from a source radio to a destination group
type Packet struct {
	SourceID      string
	DestinationID string
	// Payload is mono 8 kHz signed 16-bit little-endian PCM
	Payload []byte
}

// Event is a single item of a network adapter's event stream
type Event struct {
	Kind   EventKind
	Packet Packet
	// Err is the cause of a Closed event, nil for an orderly close
	Err error
}

// Established returns an EventEstablished event
func Established() Event {
	return Event{Kind: EventEstablished}
}

// Closed returns an EventClosed event
func Closed(cause error) Event {
	return Event{Kind: EventClosed, Err: cause}
}

// AudioReceived returns an EventAudio event for the given packet
func AudioReceived(sourceID, destinationID string, payload []byte) Event {
	return Event{
		Kind: EventAudio,
		Packet: Packet{
			SourceID:      sourceID,
			DestinationID: destinationID,
			Payload:       payload,
		},
	}
}
