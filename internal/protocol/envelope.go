package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
)

// Websocket message types
const (
	MessageHello     = "hello"
	MessageAudio     = "audio"
	MessageKeepAlive = "keepalive"
)

// Envelope is the JSON frame exchanged with a websocket peer
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hello is sent by the recorder right after connecting
type Hello struct {
	Client  string `json:"client"`
	Version string `json:"version"`
	Network string `json:"network"`
}

// VoiceChannel addresses an audio frame
type VoiceChannel struct {
	SrcID ID `json:"SrcId"`
	DstID ID `json:"DstId"`
}

// AudioData is the payload of an audio message. Data is base64 in JSON.
type AudioData struct {
	VoiceChannel VoiceChannel `json:"voiceChannel"`
	Data         []byte       `json:"data"`
}

// maxIDLength bounds the numeric forms handed to the exact decimal parser
const maxIDLength = 32

// ID is a radio or talkgroup id. Peers send either JSON numbers or strings;
// numbers are kept in decimal form.
type ID string

// UnmarshalJSON accepts a JSON string or a non-negative integral number.
// Float forms such as 1001.0 or 1.001e3 are accepted when they are exact integers.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	n, err := strconv.ParseUint(string(b), 10, 64)
	if err == nil {
		*id = ID(strconv.FormatUint(n, 10))
		return nil
	}

	if len(b) > maxIDLength {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	r, ok := new(big.Rat).SetString(string(b))
	if !ok || !r.IsInt() || r.Sign() < 0 || !r.Num().IsUint64() {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(strconv.FormatUint(r.Num().Uint64(), 10))
	return nil
}

// NewEnvelope wraps v as the data of a message of the given type
func NewEnvelope(msgType string, v any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s message: %w", msgType, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses a websocket frame
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope without type")
	}
	return &env, nil
}

// Audio decodes the data of an audio message
func (e *Envelope) Audio() (*AudioData, error) {
	if e.Type != MessageAudio {
		return nil, fmt.Errorf("not an audio message: %s", e.Type)
	}

	var audio AudioData
	if err := json.Unmarshal(e.Data, &audio); err != nil {
		return nil, fmt.Errorf("failed to decode audio message: %w", err)
	}
	if audio.VoiceChannel.SrcID == "" || audio.VoiceChannel.DstID == "" {
		return nil, fmt.Errorf("audio message without source or destination id")
	}
	return &audio, nil
}
