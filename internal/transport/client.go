package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when a command is sent while no connection is open.
// Commands are never queued for later delivery.
var ErrNotConnected = errors.New("not connected to robot")

const writeTimeout = 2 * time.Second

// Handler is invoked for every successfully parsed inbound message
type Handler func(msg protocol.Message)

type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	// reconnect backoff
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// give up connecting after this time, 0 retries forever
	MaxElapsedTime time.Duration
}

// Client is a websocket connection to the robot controller that reconnects on failure
type Client struct {
	options Options
	dialer  *websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   []Handler

	stateMu             sync.RWMutex
	clientId            uint32
	hasClientId         bool
	controllingClientId uint32
	hasController       bool
}

func NewClient(options Options) *Client {
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = 5 * time.Second
	}
	if options.InitialInterval <= 0 {
		options.InitialInterval = 500 * time.Millisecond
	}
	if options.MaxInterval <= 0 {
		options.MaxInterval = 10 * time.Second
	}
	return &Client{
		options: options,
		dialer: &websocket.Dialer{
			HandshakeTimeout: options.HandshakeTimeout,
		},
	}
}

// OnMessage registers a handler for inbound messages
func (c *Client) OnMessage(handler Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, handler)
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     c.options.InitialInterval,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         c.options.MaxInterval,
		MaxElapsedTime:      c.options.MaxElapsedTime,
		Clock:               backoff.SystemClock,
	}
}

// Connect dials the robot, retrying with an exponential backoff until the
// connection is established, the context is cancelled or the backoff gives up.
func (c *Client) Connect(ctx context.Context) error {
	op := func() error {
		conn, _, err := c.dialer.DialContext(ctx, c.options.URL, nil)
		if err != nil {
			return err
		}
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		return nil
	}
	notify := func(err error, next time.Duration) {
		ui.Warning("Unable to connect to %s: %v (retrying in %s)", c.options.URL, err, next.Round(time.Millisecond))
	}

	b := backoff.WithContext(c.newBackOff(), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("connecting to %s: %w", c.options.URL, err)
	}
	ui.Info("Connected to %s", c.options.URL)
	return nil
}

// Run reads and dispatches messages until the context is cancelled,
// reconnecting whenever the connection is lost.
func (c *Client) Run(ctx context.Context) error {
	for {
		if !c.Connected() {
			if err := c.Connect(ctx); err != nil {
				return err
			}
		}

		err := c.readLoop(ctx)
		c.closeConn()
		c.resetSession()

		if ctx.Err() != nil {
			return nil
		}
		ui.Warning("Connection to %s lost: %v", c.options.URL, err)
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(string(data))
	}
}

func (c *Client) dispatch(raw string) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		ui.Debug("Ignoring message %q: %v", raw, err)
		return
	}

	switch m := msg.(type) {
	case protocol.Welcome:
		c.stateMu.Lock()
		c.clientId = m.ClientId
		c.hasClientId = true
		c.stateMu.Unlock()
		ui.Debug("Registered as client %d", m.ClientId)
	case protocol.Control:
		c.stateMu.Lock()
		c.controllingClientId = m.ControllingClientId
		c.hasController = m.ControllingClientId != 0
		c.stateMu.Unlock()
	}

	c.handlersMu.RLock()
	handlers := append([]Handler{}, c.handlers...)
	c.handlersMu.RUnlock()
	for _, handler := range handlers {
		handler(msg)
	}
}

// Send delivers a command to the robot
func (c *Client) Send(cmd protocol.Command) error {
	return c.SendText(cmd.String())
}

// SendText delivers a raw text line to the robot
func (c *Client) SendText(text string) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("sending %q: %w", text, err)
	}
	ui.Debug("Sent: %s", text)
	return nil
}

func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// ClientId returns the id assigned by the robot in its welcome message
func (c *Client) ClientId() (uint32, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.clientId, c.hasClientId
}

// HasControl reports whether this client currently owns the robot controls
func (c *Client) HasControl() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.hasClientId && c.hasController && c.controllingClientId == c.clientId
}

// Close performs a clean websocket close handshake
func (c *Client) Close() error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	c.writeMu.Unlock()

	c.closeConn()
	return nil
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) resetSession() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.hasClientId = false
	c.hasController = false
	c.clientId = 0
	c.controllingClientId = 0
}
