package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/skypro1111/radio-recorder/internal/stream"
)

// Supported transports
const (
	TransportWebsocket = "websocket"
	TransportUDP       = "udp"
)

// Defaults for Options
const (
	DefaultRetryInterval     = 5 * time.Second
	DefaultLinkTimeout       = 15 * time.Second
	DefaultKeepAliveInterval = 5 * time.Second
	DefaultDialTimeout       = 10 * time.Second
)

// ErrLinkTimeout is the close cause when a peer stops sending
var ErrLinkTimeout = errors.New("link timed out")

// Adapter owns the connection to one radio network. Run publishes, per
// connection cycle, one Established event, the audio events in arrival order
// and exactly one Closed event. It reconnects on its own until ctx is done.
type Adapter interface {
	Run(ctx context.Context, sink chan<- stream.Event) error
}

// Options describe the endpoint of one network
type Options struct {
	Network string
	Address string
	Port    int
	// Path is the websocket request path
	Path string

	// RetryInterval is the minimum spacing between connection attempts
	RetryInterval time.Duration
	// LinkTimeout is how long a link may stay silent before it is declared lost.
	// Zero disables the check for websocket links.
	LinkTimeout       time.Duration
	KeepAliveInterval time.Duration
	DialTimeout       time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// HostPort returns address:port
func (o Options) HostPort() string {
	return net.JoinHostPort(o.Address, strconv.Itoa(o.Port))
}

// New returns the adapter for transport; an empty transport means websocket
func New(transport string, opts Options) (Adapter, error) {
	switch transport {
	case "", TransportWebsocket:
		return NewWebsocketAdapter(opts), nil
	case TransportUDP:
		return NewUDPAdapter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", transport)
	}
}

// connectFunc runs one connection cycle. It returns once the connection is gone.
type connectFunc func(ctx context.Context, sink chan<- stream.Event) error

// reconnectLoop runs connect until ctx is cancelled, pacing attempts with a token bucket
func reconnectLoop(ctx context.Context, opts Options, logger *slog.Logger, sink chan<- stream.Event, connect connectFunc) error {
	limiter := rate.NewLimiter(rate.Every(opts.RetryInterval), 1)

	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		logger.Debug("Connecting to network", slog.Int("attempt", attempt))

		err := connect(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Warn("Network connection ended",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
	}
}

// emit delivers ev unless ctx is cancelled first
func emit(ctx context.Context, sink chan<- stream.Event, ev stream.Event) bool {
	select {
	case sink <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
