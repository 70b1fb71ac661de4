// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sidecar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/gcbridge/lib/codec"
)

// Defaults for zero Config fields.
const (
	DefaultDialTimeout = 10 * time.Second
	DefaultCallTimeout = 30 * time.Second

	writeTimeout = 10 * time.Second
)

// ErrClosed is returned by calls on a closed or broken connection.
var ErrClosed = errors.New("sidecar: connection closed")

// Config configures Dial.
type Config struct {
	// URL is the sidecar WebSocket endpoint (ws:// or wss://). Required.
	URL string

	// DialTimeout bounds the handshake and the wait for hello.
	DialTimeout time.Duration

	// CallTimeout bounds each call that has no earlier context
	// deadline.
	CallTimeout time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger is required.
	Logger *slog.Logger
}

// scopeHandler receives the events of one scope. Methods run on the
// read goroutine and must not block.
type scopeHandler interface {
	handleEvent(frame Frame)
	connectionLost(err error)
}

// Conn is a connection to the sidecar. Safe for concurrent use.
type Conn struct {
	socket       *websocket.Conn
	capabilities map[string]bool
	callTimeout  time.Duration
	logger       *slog.Logger

	// writeMu serializes writes; gorilla/websocket allows one
	// concurrent writer.
	writeMu sync.Mutex

	mu       sync.Mutex
	calls    map[string]chan Frame
	handlers map[string]scopeHandler
	err      error

	closing   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the sidecar and waits for its hello frame.
func Dial(ctx context.Context, config Config) (*Conn, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("sidecar: URL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("sidecar: Logger is required")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	socket, response, err := dialer.DialContext(dialCtx, config.URL, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("sidecar: dialing %s: %w (status %d)", config.URL, err, response.StatusCode)
		}
		return nil, fmt.Errorf("sidecar: dialing %s: %w", config.URL, err)
	}

	deadline, _ := dialCtx.Deadline()
	socket.SetReadDeadline(deadline)
	hello, err := readFrame(socket)
	if err != nil {
		socket.Close()
		return nil, fmt.Errorf("sidecar: reading hello: %w", err)
	}
	if hello.Type != FrameHello {
		socket.Close()
		return nil, fmt.Errorf("sidecar: first frame is %q, want hello", hello.Type)
	}
	socket.SetReadDeadline(time.Time{})

	conn := &Conn{
		socket:       socket,
		capabilities: make(map[string]bool, len(hello.Capabilities)),
		callTimeout:  config.CallTimeout,
		logger:       config.Logger.With("component", "sidecar"),
		calls:        make(map[string]chan Frame),
		handlers:     make(map[string]scopeHandler),
		done:         make(chan struct{}),
	}
	for _, capability := range hello.Capabilities {
		conn.capabilities[capability] = true
	}
	conn.logger.Info("connected to sidecar", "url", config.URL, "capabilities", len(hello.Capabilities))

	go conn.readLoop()
	return conn, nil
}

// Has reports whether the sidecar advertised method.
func (c *Conn) Has(method string) bool {
	return c.capabilities[method]
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the socket. Pending calls fail with ErrClosed.
func (c *Conn) Close() error {
	c.closing.Store(true)
	c.writeMu.Lock()
	c.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.socket.Close()
	<-c.done
	return err
}

// handle registers the handler for scope's events.
func (c *Conn) handle(scope string, handler scopeHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[scope] = handler
}

// Call invokes method with params and decodes the result payload into
// result, which may be nil. A sidecar-side failure is returned as a
// *RemoteError.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	frame := Frame{Type: FrameCall, ID: uuid.NewString(), Method: method}
	if params != nil {
		encoded, err := codec.Marshal(params)
		if err != nil {
			return fmt.Errorf("sidecar: encoding %s params: %w", method, err)
		}
		frame.Params = encoded
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	reply := make(chan Frame, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return fmt.Errorf("sidecar: calling %s: %w", method, err)
	}
	c.calls[frame.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.calls, frame.ID)
		c.mu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return fmt.Errorf("sidecar: sending %s: %w", method, err)
	}

	select {
	case response := <-reply:
		if response.Error != nil {
			return response.Error
		}
		if result != nil && len(response.Payload) > 0 {
			if err := codec.Unmarshal(response.Payload, result); err != nil {
				return fmt.Errorf("sidecar: decoding %s result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		return fmt.Errorf("sidecar: calling %s: %w", method, c.Err())
	case <-ctx.Done():
		return fmt.Errorf("sidecar: calling %s: %w", method, ctx.Err())
	}
}

func (c *Conn) write(frame Frame) error {
	data, err := codec.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.socket.WriteMessage(websocket.BinaryMessage, data)
}

func readFrame(socket *websocket.Conn) (Frame, error) {
	messageType, data, err := socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if messageType != websocket.BinaryMessage {
		return Frame{}, fmt.Errorf("unexpected websocket message type %d", messageType)
	}
	var frame Frame
	if err := codec.Unmarshal(data, &frame); err != nil {
		diagnostic, _ := codec.Diagnose(data)
		return Frame{}, fmt.Errorf("decoding frame %s: %w", diagnostic, err)
	}
	return frame, nil
}

func (c *Conn) readLoop() {
	var loopErr error
	for {
		frame, err := readFrame(c.socket)
		if err != nil {
			if c.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				loopErr = ErrClosed
			} else {
				loopErr = fmt.Errorf("%w: %w", ErrClosed, err)
			}
			break
		}
		c.dispatch(frame)
	}
	c.shutdown(loopErr)
}

func (c *Conn) dispatch(frame Frame) {
	switch frame.Type {
	case FrameResult:
		c.mu.Lock()
		reply, ok := c.calls[frame.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("dropping result for unknown call", "id", frame.ID)
			return
		}
		select {
		case reply <- frame:
		default:
		}
	case FrameEvent:
		c.mu.Lock()
		handler, ok := c.handlers[frame.Scope]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("dropping event for unhandled scope", "scope", frame.Scope, "event", frame.Event)
			return
		}
		handler.handleEvent(frame)
	default:
		c.logger.Warn("unexpected frame from sidecar", "type", string(frame.Type))
	}
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		handlers := make([]scopeHandler, 0, len(c.handlers))
		for _, handler := range c.handlers {
			handlers = append(handlers, handler)
		}
		c.mu.Unlock()

		c.socket.Close()
		close(c.done)
		if err != ErrClosed {
			c.logger.Warn("sidecar connection lost", "error", err)
		}
		for _, handler := range handlers {
			handler.connectionLost(err)
		}
	})
}
