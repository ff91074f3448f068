package protocol

import (
	"encoding/binary"
	"fmt"
)

// Datagram constants of the UDP link
const (
	// Packet types
	PacketTypeRegister  = 0x01
	PacketTypeKeepAlive = 0x02
	PacketTypeAudio     = 0x03

	// HeaderSize is 1 + 2 + 4 + 4 bytes
	HeaderSize = 11

	// MaxPacketSize is the largest datagram the length field can describe
	MaxPacketSize = 0xFFFF
)

// Header represents the 11-byte TLV packet header
// Layout: [PacketType:1][PacketLen:2][SrcID:4][DstID:4]
type Header struct {
	PacketType uint8  // 0x01=Register, 0x02=KeepAlive, 0x03=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	SrcID      uint32 // Source radio id, 0 for control packets
	DstID      uint32 // Destination talkgroup id, 0 for control packets
}

// Packet represents a fully parsed TLV packet
type Packet struct {
	Header  Header
	Payload []byte // PCM audio for Audio packets, peer name for Register
}

// ParseHeader parses the 11-byte TLV packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SrcID:      binary.BigEndian.Uint32(data[3:7]),
		DstID:      binary.BigEndian.Uint32(data[7:11]),
	}

	return header, nil
}

// ParsePacket parses a complete TLV packet (header + payload).
// The payload is copied so the caller may reuse data.
func ParsePacket(data []byte) (*Packet, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &Packet{Header: *header}
	if len(data) > HeaderSize {
		packet.Payload = make([]byte, len(data)-HeaderSize)
		copy(packet.Payload, data[HeaderSize:])
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeKeepAlive:
		if payloadSize != 0 {
			return fmt.Errorf("keepalive packet must not carry a payload, got %d bytes", payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize == 0 {
			return fmt.Errorf("audio packet without payload")
		}
		if header.DstID == 0 {
			return fmt.Errorf("audio packet without destination id")
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeRegister || ptype == PacketTypeKeepAlive || ptype == PacketTypeAudio
}

// Encode serializes a packet, filling in the length field
func Encode(packetType uint8, srcID, dstID uint32, payload []byte) ([]byte, error) {
	total := HeaderSize + len(payload)
	if total > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (maximum %d)", total, MaxPacketSize)
	}

	buf := make([]byte, total)
	buf[0] = packetType
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	binary.BigEndian.PutUint32(buf[3:7], srcID)
	binary.BigEndian.PutUint32(buf[7:11], dstID)
	copy(buf[HeaderSize:], payload)

	return buf, nil
}

// EncodeRegister builds the datagram announcing this recorder to the peer
func EncodeRegister(name string) ([]byte, error) {
	return Encode(PacketTypeRegister, 0, 0, []byte(name))
}

// EncodeKeepAlive builds an empty keepalive datagram
func EncodeKeepAlive() []byte {
	buf, _ := Encode(PacketTypeKeepAlive, 0, 0, nil)
	return buf
}

// EncodeAudio builds an audio datagram
func EncodeAudio(srcID, dstID uint32, pcm []byte) ([]byte, error) {
	return Encode(PacketTypeAudio, srcID, dstID, pcm)
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeRegister:
		packetType = "Register"
	case PacketTypeKeepAlive:
		packetType = "KeepAlive"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, SrcID:%d, DstID:%d}",
		packetType, h.PacketLen, h.SrcID, h.DstID)
}
