package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/jluethi/TissueMAPS/internal/channel"
	"github.com/jluethi/TissueMAPS/internal/queue"
	"github.com/jluethi/TissueMAPS/pkg/streaming"
)

const (
	sendChSize   = 10_000
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// connection manages a WebSocket connection with a single write goroutine
// per live connection. Messages that fail to write are requeued and
// flushed before new traffic once the connection is back.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh channel.Channel[[]byte]
	ackCh  channel.Channel[streaming.Ack]
	done   chan struct{} // closed on shutdown
	closed bool

	wsURL  string
	secret string

	// Cached session_start message for reconnect replay.
	cachedSessionMsg []byte
	// Messages pulled from sendCh that never reached the wire.
	pending *queue.Queue[[]byte]

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:  channel.New[[]byte](sendChSize),
		ackCh:   channel.New[streaming.Ack](ackChSize),
		done:    make(chan struct{}),
		pending: queue.New[[]byte](),
		logger:  logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)

	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop drains requeued messages and then sendCh, writing to the
// connection it was started for. It returns on write error or shutdown;
// the loop for a replaced connection dies on its first failed write.
func (c *connection) writeLoop(conn *ws.Conn) {
	for {
		data := c.pending.Pop()
		if data == nil {
			select {
			case <-c.done:
				return
			case data = <-c.sendCh.Receive():
			}
		}

		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
			c.pending.Push(data)
			go c.reconnect(conn)
			return
		}
		if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
			c.logger.Warn("WebSocket write error", "error", err)
			c.pending.Push(data)
			go c.reconnect(conn)
			return
		}
	}
}

// readLoop reads ack messages from the server and routes them to ackCh.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var ack streaming.Ack
		if err := json.Unmarshal(message, &ack); err != nil {
			c.logger.Debug("Non-ack message received", "raw", string(message))
			continue
		}

		if ack.Type == streaming.TypeAck {
			if !c.ackCh.TrySend(ack) {
				c.logger.Debug("Ack channel full, dropping", "for", ack.For)
			}
		}
	}
}

// reconnect re-establishes the WebSocket connection with exponential
// backoff. Only the goroutine whose connection is still current dials;
// stale callers return immediately. On success it replays the cached
// session_start message and restarts the read/write loops.
func (c *connection) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = failed.Close()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		default:
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		time.Sleep(backoff)

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		cached := c.cachedSessionMsg
		c.mu.Unlock()

		// Replay session_start so the server knows which session this is.
		if cached != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("Failed to set deadline for session_start replay", "error", err)
				_ = conn.Close()
				continue
			}
			if err := conn.WriteMessage(ws.TextMessage, cached); err != nil {
				c.logger.Warn("Failed to replay session_start after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		go c.writeLoop(conn)
		go c.readLoop(conn)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send pushes data to the write loop without blocking; a full channel
// drops the message.
func (c *connection) send(data []byte) {
	if !c.sendCh.TrySend(data) {
		c.logger.Warn("WebSocket send channel full, dropping message")
	}
}

// sendAndWait sends data and blocks until the server acknowledges with a
// matching ack message or the timeout expires.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh.Receive():
			if ack.For == ackFor {
				return nil
			}
			// Not our ack, keep waiting.
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
// Requeued messages that never reached the wire are dropped, with a
// count in the log.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if dropped := c.pending.Drain(); len(dropped) > 0 {
		c.logger.Warn("Closing with unsent messages", "count", len(dropped))
	}

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
