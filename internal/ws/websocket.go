package ws

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"tollgate/pkg/core"
)

// Config holds configuration options for a websocket client.
type Config struct {
	// URL is the websocket server endpoint to connect to.
	URL string
	// ReconnectEnabled determines whether automatic reconnection is enabled.
	ReconnectEnabled bool
	// ReconnectBaseWait is the wait before the first reconnection attempt. It
	// doubles per attempt up to ReconnectMaxWait.
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	// MaxReconnectAttempts stops reconnecting after that many failures; zero
	// retries forever.
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	// PingInterval is the duration between client pings.
	PingInterval time.Duration
	// PongWait is how long past PingInterval a silent connection is kept.
	PongWait time.Duration
	// BufferSize is the number of inbound messages queued for the handler.
	BufferSize int
}

// Client manages one websocket connection with reconnection. Inbound frames
// are queued and handed to a single handler goroutine in arrival order.
type Client struct {
	config    Config
	state     atomicState
	handler   *eventHandler
	onMessage func([]byte)
	logger    zerolog.Logger

	mu                sync.RWMutex
	conn              *gws.Conn
	connectedCh       chan struct{}
	onState           func(ConnState)
	reconnectAttempts int

	inbox     chan []byte
	stopCh    chan struct{}
	startOnce sync.Once
	wg        sync.WaitGroup
}

type eventHandler struct {
	client *Client
}

// NewClient creates a websocket client. Zero-valued config fields get defaults.
func NewClient(config Config, onMessage func([]byte)) *Client {
	if config.ReconnectBaseWait == 0 {
		config.ReconnectBaseWait = 1 * time.Second
	}
	if config.ReconnectMaxWait == 0 {
		config.ReconnectMaxWait = 30 * time.Second
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PongWait == 0 {
		config.PongWait = 20 * time.Second
	}
	if config.BufferSize == 0 {
		config.BufferSize = 100
	}
	if onMessage == nil {
		onMessage = func([]byte) {}
	}

	client := &Client{
		config:      config,
		onMessage:   onMessage,
		logger:      zerolog.Nop(),
		connectedCh: make(chan struct{}),
		inbox:       make(chan []byte, config.BufferSize),
		stopCh:      make(chan struct{}),
	}
	client.state.store(StateDisconnected)
	client.handler = &eventHandler{client: client}
	return client
}

// SetLogger configures the logger for the websocket client.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// OnStateChange registers fn to be called on every connection state change.
// fn runs on the connection's goroutine and must not block.
func (c *Client) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Client) notify(state ConnState) {
	c.mu.RLock()
	fn := c.onState
	c.mu.RUnlock()
	if fn != nil {
		fn(state)
	}
}

func (c *Client) extendDeadline(socket *gws.Conn) {
	_ = socket.SetDeadline(time.Now().Add(c.config.PingInterval + c.config.PongWait))
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	c := h.client
	if !c.state.transition(StateConnecting, StateConnected) &&
		!c.state.transition(StateReconnecting, StateConnected) {
		_ = socket.NetConn().Close()
		return
	}

	c.mu.Lock()
	c.reconnectAttempts = 0
	select {
	case <-c.connectedCh:
	default:
		close(c.connectedCh)
	}
	c.mu.Unlock()

	c.logger.Info().Str("url", c.config.URL).Msg("websocket connected")
	c.extendDeadline(socket)
	c.notify(StateConnected)
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	c := h.client
	if !c.state.transition(StateConnected, StateDisconnected) {
		return
	}

	c.logger.Warn().Err(err).Str("url", c.config.URL).Msg("websocket disconnected")
	c.notify(StateDisconnected)

	if c.config.ReconnectEnabled {
		c.wg.Go(c.reconnect)
	}
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	h.client.extendDeadline(socket)
	_ = socket.WritePong(payload)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	h.client.extendDeadline(socket)
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	c := h.client
	c.extendDeadline(socket)

	if len(message.Bytes()) == 0 {
		return
	}
	// The frame buffer returns to gws's pool on Close.
	data := bytes.Clone(message.Bytes())

	select {
	case c.inbox <- data:
	default:
		c.logger.Warn().Int("buffer", c.config.BufferSize).Msg("inbound buffer full, dropping message")
	}
}

// Connect dials the configured URL and waits for the handshake. Calling it on
// a connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.transition(StateDisconnected, StateConnecting) {
		current := c.state.load()
		if current == StateConnected {
			return nil
		}
		return fmt.Errorf("invalid state for connect: %s", current)
	}

	c.startOnce.Do(func() {
		c.wg.Go(c.dispatch)
		c.wg.Go(c.keepalive)
	})

	if err := c.dial(ctx); err != nil {
		c.state.transition(StateConnecting, StateDisconnected)
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	connected := make(chan struct{})
	c.connectedCh = connected
	c.mu.Unlock()

	socket, _, err := gws.NewClient(c.handler, &gws.ClientOption{
		Addr:             c.config.URL,
		HandshakeTimeout: c.config.HandshakeTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = socket
	c.mu.Unlock()

	c.wg.Go(socket.ReadLoop)

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		_ = socket.NetConn().Close()
		return ctx.Err()
	case <-c.stopCh:
		_ = socket.NetConn().Close()
		return core.ErrStreamClosed
	}
}

// Close shuts the connection down for good and waits for its goroutines.
func (c *Client) Close() error {
	for {
		current := c.state.load()
		if current == StateClosed {
			return nil
		}
		if c.state.transition(current, StateClosed) {
			break
		}
	}

	close(c.stopCh)

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		_ = conn.NetConn().Close()
	}

	c.wg.Wait()
	c.notify(StateClosed)
	return nil
}

// State returns the current connection state of the websocket.
func (c *Client) State() ConnState {
	return c.state.load()
}

// IsConnected returns true if the websocket has an active connection.
func (c *Client) IsConnected() bool {
	return c.state.load() == StateConnected
}

// WriteMessage sends a text frame.
func (c *Client) WriteMessage(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.load() != StateConnected {
		return core.ErrNotConnected
	}
	return c.conn.WriteMessage(gws.OpcodeText, data)
}

// SendJSON marshals v and sends it as a text frame.
func (c *Client) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.WriteMessage(data)
}

func (c *Client) SendPing() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil || c.state.load() != StateConnected {
		return core.ErrNotConnected
	}
	return c.conn.WritePing(nil)
}

func (c *Client) dispatch() {
	for {
		select {
		case data := <-c.inbox:
			c.onMessage(data)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) keepalive() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !c.IsConnected() {
				continue
			}
			if err := c.SendPing(); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) reconnect() {
	if !c.state.transition(StateDisconnected, StateReconnecting) {
		return
	}
	c.notify(StateReconnecting)

	for {
		c.mu.Lock()
		attempts := c.reconnectAttempts
		c.reconnectAttempts++
		c.mu.Unlock()

		if limit := c.config.MaxReconnectAttempts; limit > 0 && attempts >= limit {
			if c.state.transition(StateReconnecting, StateDisconnected) {
				c.logger.Error().Int("attempts", attempts).Msg("giving up reconnecting")
				c.notify(StateDisconnected)
			}
			return
		}

		wait := c.backoff(attempts)
		c.logger.Info().
			Dur("wait", wait).
			Int("attempt", attempts+1).
			Msg("attempting reconnect")

		select {
		case <-time.After(wait):
		case <-c.stopCh:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			c.logger.Info().Msg("reconnected successfully")
			return
		}
		if c.state.load() == StateClosed {
			return
		}
		c.logger.Error().Err(err).Int("attempt", attempts+1).Msg("reconnect failed")
	}
}

func (c *Client) backoff(attempts int) time.Duration {
	return min(c.config.ReconnectBaseWait*time.Duration(1<<uint(min(attempts, 20))), c.config.ReconnectMaxWait)
}
