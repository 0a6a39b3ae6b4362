// Package signal is the websocket transport to the rendezvous relay.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

const writeWait = 10 * time.Second

var errClientClosed = errors.New("signaling client closed")

// Config configures a Client.
type Config struct {
	URL   string
	Codec Codec
	// ReconnectAttempts bounds the retries after a failed first dial and
	// after a dropped connection.
	ReconnectAttempts int
	// ReconnectDelay is the first backoff; it doubles up to ReconnectDelayMax.
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	DialTimeout       time.Duration
	PingInterval      time.Duration
	Header            http.Header
}

func (cfg *Config) applyDefaults() {
	if cfg.Codec == nil {
		cfg.Codec = JSON()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.ReconnectDelayMax < cfg.ReconnectDelay {
		cfg.ReconnectDelayMax = cfg.ReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 20 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
}

// Client manages the websocket connection to the relay and reconnects with
// backoff when it drops. It implements domain.Signaler.
type Client struct {
	cfg     Config
	handler domain.Handler
	log     zerolog.Logger
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a signaling client that delivers events to handler.
func NewClient(cfg Config, handler domain.Handler, logger zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		handler: handler,
		log:     logger.With().Str("module", "signal").Logger(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
			Subprotocols:     []string{cfg.Codec.Name()},
		},
		closed: make(chan struct{}),
	}
}

// Connect dials the relay, retrying within the reconnect budget, and starts
// the read loop.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dialWithRetry(ctx, c.cfg.ReconnectAttempts+1, false)
	if err != nil {
		return err
	}
	if !c.attach(conn) {
		return domain.NewError("connect", domain.Kind(domain.ErrTransport, errClientClosed))
	}
	return nil
}

// Close shuts the connection down. The client does not reconnect afterwards.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.conn = nil
		c.log.Debug().Msg("closed")
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", c.cfg.URL, err)
	}

	proto := conn.Subprotocol()
	if proto != c.cfg.Codec.Name() && !(proto == "" && c.cfg.Codec.Name() == SubprotocolJSON) {
		conn.Close()
		return nil, fmt.Errorf("relay negotiated subprotocol %q, want %q", proto, c.cfg.Codec.Name())
	}
	return conn, nil
}

// dialWithRetry makes up to attempts dials with exponential backoff. When
// delayFirst is set the first dial also waits.
func (c *Client) dialWithRetry(ctx context.Context, attempts int, delayFirst bool) (*websocket.Conn, error) {
	delay := c.cfg.ReconnectDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 || delayFirst {
			c.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("waiting to dial")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.closed:
				return nil, domain.NewError("connect", domain.ErrNotConnected)
			}
			delay = min(delay*2, c.cfg.ReconnectDelayMax)
		}

		c.log.Info().Str("url", c.cfg.URL).Int("attempt", attempt).Msg("connecting")
		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
	}
	return nil, domain.NewError("connect", domain.Kind(domain.ErrTransport, fmt.Errorf("%d attempts: %w", attempts, lastErr)))
}

// attach installs conn and starts its loops. It closes conn and reports false
// when Close ran while conn was being dialed.
func (c *Client) attach(conn *websocket.Conn) bool {
	pongWait := 2 * c.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		conn.Close()
		c.log.Debug().Msg("closed during dial, dropping connection")
		return false
	}
	c.conn = conn
	c.mu.Unlock()

	c.log.Info().Str("codec", c.cfg.Codec.Name()).Msg("connected")
	go c.readLoop(conn)
	go c.pingLoop(conn)
	return true
}

// reconnect re-establishes a dropped connection. The relay sees a new
// connection, so the handler is told to rejoin.
func (c *Client) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := c.dialWithRetry(ctx, c.cfg.ReconnectAttempts, true)
	if err != nil {
		if c.isClosed() {
			return
		}
		c.log.Error().Err(err).Msg("reconnect budget exhausted")
		c.handler.OnTransportFailure(err)
		return
	}
	if !c.attach(conn) {
		return
	}
	c.handler.OnReconnected()
}

func (c *Client) send(event string, payload any) error {
	data, err := c.cfg.Codec.Encode(event, payload)
	if err != nil {
		return domain.NewError("send "+event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.NewError("send "+event, domain.ErrNotConnected)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(c.cfg.Codec.MessageType(), data); err != nil {
		return domain.NewError("send "+event, err)
	}
	c.log.Debug().Str("event", event).Msg(">>>")
	return nil
}

func (c *Client) SendJoinRoom(msg domain.JoinRoom) error {
	return c.send(domain.EventJoinRoom, msg)
}

func (c *Client) SendOffer(msg domain.OfferOut) error {
	return c.send(domain.EventOffer, msg)
}

func (c *Client) SendAnswer(msg domain.AnswerOut) error {
	return c.send(domain.EventAnswer, msg)
}

func (c *Client) SendICECandidate(msg domain.CandidateOut) error {
	return c.send(domain.EventICECandidate, msg)
}

func (c *Client) SendToggleMedia(msg domain.ToggleMedia) error {
	return c.send(domain.EventToggleMedia, msg)
}

func (c *Client) SendLeaveRoom(msg domain.LeaveRoom) error {
	return c.send(domain.EventLeaveRoom, msg)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				conn.Close()
				return
			}
			c.log.Warn().Err(err).Msg("connection lost")

			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()

			go c.reconnect()
			return
		}

		frame, err := c.cfg.Codec.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("decode frame")
			continue
		}
		c.log.Debug().Str("event", frame.Event).Msg("<<<")
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Event {
	case domain.EventRoomJoined:
		deliver(c, f, c.handler.OnRoomJoined)
	case domain.EventUserJoined:
		deliver(c, f, c.handler.OnUserJoined)
	case domain.EventUserLeft:
		deliver(c, f, c.handler.OnUserLeft)
	case domain.EventOffer:
		deliver(c, f, c.handler.OnOffer)
	case domain.EventAnswer:
		deliver(c, f, c.handler.OnAnswer)
	case domain.EventICECandidate:
		deliver(c, f, c.handler.OnICECandidate)
	case domain.EventUserMediaToggle:
		deliver(c, f, c.handler.OnUserMediaToggle)
	case domain.EventError:
		deliver(c, f, func(m domain.ErrorMsg) {
			c.log.Warn().Str("event", m.Event).Str("reason", m.Message).Msg("relay rejected message")
		})
	default:
		c.log.Debug().Str("event", f.Event).Msg("unhandled event")
	}
}

func deliver[T any](c *Client, f Frame, fn func(T)) {
	var msg T
	if err := f.Decode(&msg); err != nil {
		err = domain.NewError("decode "+f.Event, domain.Kind(domain.ErrSignalingProtocol, err))
		c.log.Warn().Err(err).Msg("dropping malformed event")
		return
	}
	fn(msg)
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

var _ domain.Signaler = (*Client)(nil)
