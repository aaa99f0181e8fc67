// Package ws is the low-level WebSocket transport for the gateway: dial with
// reconnect backoff, and the one-shot send/receive exchange the gateway's
// request protocol uses.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	writeTimeout   = 10 * time.Second
)

// ErrNonTextFrame reports a reply that arrived as a non-text frame where the
// protocol requires JSON text.
var ErrNonTextFrame = errors.New("received non-text frame")

// Conn wraps a client WebSocket connection. Writes are serialized; the
// protocol allows a single reader, owned by whoever holds the Conn.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
}

// Dial opens a WebSocket connection with unbounded retry and exponential
// backoff, 1s doubling up to 60s. It never gives up on its own; cancel ctx
// to bound the attempt.
func Dial(ctx context.Context, url string, log *zap.Logger) (*Conn, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = initialBackoff
	backoffCfg.MaxInterval = maxBackoff
	backoffCfg.Multiplier = 2

	for {
		conn, err := dial(ctx, url)
		if err == nil {
			log.Info("websocket connection established", zap.String("url", url))
			return conn, nil
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxBackoff
		}
		log.Warn("failed to connect, retrying",
			zap.String("url", url),
			zap.Duration("backoff", sleep),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// DialOnce opens a WebSocket connection with a single attempt. Used by the
// request/response path, where failures surface to the caller immediately.
func DialOnce(ctx context.Context, url string) (*Conn, error) {
	return dial(ctx, url)
}

func dial(ctx context.Context, url string) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: conn}, nil
}

// WriteText sends a single text frame.
func (c *Conn) WriteText(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Ping sends a ping control frame.
func (c *Conn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// TextMessage mirrors the websocket text frame type for callers that read
// raw frames via Read.
const TextMessage = websocket.TextMessage

// Read blocks until the next data frame arrives and returns its frame type
// and payload. Control frames are handled by the underlying library.
func (c *Conn) Read() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// ReadText blocks until the next data frame arrives and returns its payload.
// Fails with ErrNonTextFrame if the frame is not text.
func (c *Conn) ReadText() ([]byte, error) {
	msgType, payload, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: type %d", ErrNonTextFrame, msgType)
	}
	return payload, nil
}

// SendAndReceiveOne sends one text frame and returns the payload of the next
// inbound frame. One logical request maps to one response frame; there is no
// correlation id, so the caller must keep a single request in flight.
func (c *Conn) SendAndReceiveOne(payload []byte) ([]byte, error) {
	if err := c.WriteText(payload); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	reply, err := c.ReadText()
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	return reply, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
