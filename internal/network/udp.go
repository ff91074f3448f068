package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/radio-recorder/internal/protocol"
	"github.com/skypro1111/radio-recorder/internal/stream"
)

// UDPAdapter speaks the TLV datagram link: it registers with the peer,
// keeps the registration alive and forwards audio datagrams
type UDPAdapter struct {
	opts       Options
	logger     *slog.Logger
	bufferSize int
}

// NewUDPAdapter creates an adapter for the peer at address:port
func NewUDPAdapter(opts Options) *UDPAdapter {
	opts = opts.withDefaults()
	if opts.LinkTimeout <= 0 {
		opts.LinkTimeout = DefaultLinkTimeout
	}
	return &UDPAdapter{
		opts:       opts,
		logger:     opts.Logger.With(slog.String("network", opts.Network), slog.String("transport", TransportUDP)),
		bufferSize: protocol.MaxPacketSize,
	}
}

// Run registers and re-registers until ctx is cancelled
func (a *UDPAdapter) Run(ctx context.Context, sink chan<- stream.Event) error {
	return reconnectLoop(ctx, a.opts, a.logger, sink, a.session)
}

func (a *UDPAdapter) session(ctx context.Context, sink chan<- stream.Event) error {
	raddr, err := net.ResolveUDPAddr("udp", a.opts.HostPort())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("failed to dial UDP: %w", err)
	}
	defer conn.Close()

	stopRead := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stopRead()

	register, err := protocol.EncodeRegister(a.opts.Network)
	if err != nil {
		return err
	}
	if _, err := conn.Write(register); err != nil {
		return fmt.Errorf("failed to send register: %w", err)
	}

	// The link is up once the peer answers with any datagram
	buffer := make([]byte, a.bufferSize)
	first, err := a.read(ctx, conn, buffer)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("no answer from %s: %w", raddr, err)
	}

	a.logger.Info("Connected to network", slog.String("address", raddr.String()))
	if !emit(ctx, sink, stream.Established()) {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.keepAlive(gctx, conn)
	})
	g.Go(func() error {
		if !a.forward(gctx, first, sink) {
			return nil
		}
		return a.receiveLoop(gctx, conn, buffer, sink)
	})

	// Unblock the reader when the keepalive sender fails or ctx is cancelled
	stop := context.AfterFunc(gctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	cause := g.Wait()
	if ctx.Err() != nil {
		return nil
	}

	a.logger.Info("Connection closed", slog.String("cause", errString(cause)))
	emit(ctx, sink, stream.Closed(cause))
	return cause
}

// read waits up to LinkTimeout for one datagram and returns a copy of it
func (a *UDPAdapter) read(ctx context.Context, conn *net.UDPConn, buffer []byte) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(a.opts.LinkTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := conn.Read(buffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
			return nil, ErrLinkTimeout
		}
		return nil, err
	}

	// Copy because the buffer is reused
	data := make([]byte, n)
	copy(data, buffer[:n])
	return data, nil
}

// receiveLoop forwards datagrams until the link fails or ctx is done
func (a *UDPAdapter) receiveLoop(ctx context.Context, conn *net.UDPConn, buffer []byte, sink chan<- stream.Event) error {
	for {
		data, err := a.read(ctx, conn, buffer)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !a.forward(ctx, data, sink) {
			return ctx.Err()
		}
	}
}

// forward publishes audio datagrams; it returns false when ctx is done
func (a *UDPAdapter) forward(ctx context.Context, data []byte, sink chan<- stream.Event) bool {
	packet, err := protocol.ParsePacket(data)
	if err != nil {
		a.logger.Warn("Failed to parse packet",
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()),
		)
		return true
	}

	// Control datagrams only refresh the link deadline
	if packet.Header.PacketType != protocol.PacketTypeAudio {
		return true
	}
	return emit(ctx, sink, audioEvent(packet))
}

func (a *UDPAdapter) keepAlive(ctx context.Context, conn *net.UDPConn) error {
	ticker := time.NewTicker(a.opts.KeepAliveInterval)
	defer ticker.Stop()

	keepAlive := protocol.EncodeKeepAlive()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := conn.Write(keepAlive); err != nil {
				return fmt.Errorf("failed to send keepalive: %w", err)
			}
		}
	}
}
