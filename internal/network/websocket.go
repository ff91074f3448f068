package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/radio-recorder/internal/protocol"
	"github.com/skypro1111/radio-recorder/internal/stream"
)

// ClientName is announced to peers in the hello message
const ClientName = "radio-recorder"

// WebsocketAdapter connects to a network peer over a websocket and
// forwards its audio messages
type WebsocketAdapter struct {
	opts   Options
	logger *slog.Logger
	dialer *websocket.Dialer

	// Version is reported in the hello message
	Version string
}

// NewWebsocketAdapter creates an adapter for ws://address:port/path
func NewWebsocketAdapter(opts Options) *WebsocketAdapter {
	opts = opts.withDefaults()
	return &WebsocketAdapter{
		opts:   opts,
		logger: opts.Logger.With(slog.String("network", opts.Network), slog.String("transport", TransportWebsocket)),
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
		},
		Version: "dev",
	}
}

// URL returns the websocket URL of the peer
func (a *WebsocketAdapter) URL() string {
	u := url.URL{Scheme: "ws", Host: a.opts.HostPort(), Path: a.opts.Path}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// Run connects and reconnects until ctx is cancelled
func (a *WebsocketAdapter) Run(ctx context.Context, sink chan<- stream.Event) error {
	return reconnectLoop(ctx, a.opts, a.logger, sink, a.session)
}

func (a *WebsocketAdapter) session(ctx context.Context, sink chan<- stream.Event) error {
	conn, _, err := a.dialer.DialContext(ctx, a.URL(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", a.URL(), err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "recorder shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	hello, err := protocol.NewEnvelope(protocol.MessageHello, protocol.Hello{
		Client:  ClientName,
		Version: a.Version,
		Network: a.opts.Network,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}

	a.logger.Info("Connected to network", slog.String("url", a.URL()))
	if !emit(ctx, sink, stream.Established()) {
		return nil
	}

	cause := a.readLoop(ctx, conn, sink)
	if ctx.Err() != nil {
		return nil
	}

	a.logger.Info("Connection closed", slog.String("cause", errString(cause)))
	emit(ctx, sink, stream.Closed(cause))
	return cause
}

// readLoop forwards frames until the connection fails; it returns the cause,
// nil for an orderly close by the peer
func (a *WebsocketAdapter) readLoop(ctx context.Context, conn *websocket.Conn, sink chan<- stream.Event) error {
	for {
		if a.opts.LinkTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(a.opts.LinkTimeout))
		}

		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrLinkTimeout
			}
			return err
		}

		var ev stream.Event
		var ok bool
		switch msgType {
		case websocket.TextMessage:
			ev, ok = a.decodeText(frame)
		case websocket.BinaryMessage:
			ev, ok = a.decodeBinary(frame)
		}
		if ok && !emit(ctx, sink, ev) {
			return nil
		}
	}
}

func (a *WebsocketAdapter) decodeText(frame []byte) (stream.Event, bool) {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		a.logger.Warn("Dropping malformed message", slog.String("error", err.Error()))
		return stream.Event{}, false
	}

	switch env.Type {
	case protocol.MessageAudio:
		audio, err := env.Audio()
		if err != nil {
			a.logger.Warn("Dropping malformed audio message", slog.String("error", err.Error()))
			return stream.Event{}, false
		}
		return stream.AudioReceived(string(audio.VoiceChannel.SrcID), string(audio.VoiceChannel.DstID), audio.Data), true
	default:
		a.logger.Debug("Ignoring message", slog.String("type", env.Type))
		return stream.Event{}, false
	}
}

// decodeBinary accepts TLV audio datagrams carried in binary frames
func (a *WebsocketAdapter) decodeBinary(frame []byte) (stream.Event, bool) {
	packet, err := protocol.ParsePacket(frame)
	if err != nil {
		a.logger.Warn("Dropping malformed binary frame",
			slog.Int("frame_size", len(frame)),
			slog.String("error", err.Error()),
		)
		return stream.Event{}, false
	}
	if packet.Header.PacketType != protocol.PacketTypeAudio {
		return stream.Event{}, false
	}
	return audioEvent(packet), true
}

func audioEvent(packet *protocol.Packet) stream.Event {
	return stream.AudioReceived(
		strconv.FormatUint(uint64(packet.Header.SrcID), 10),
		strconv.FormatUint(uint64(packet.Header.DstID), 10),
		packet.Payload,
	)
}

func errString(err error) string {
	if err == nil {
		return "closed by peer"
	}
	return err.Error()
}
