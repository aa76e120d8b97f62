package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	// PingInterval is the heartbeat period. A peer that fails to answer a
	// ping within PingTimeout is terminated, so a dead peer is reclaimed
	// within at most two intervals.
	PingInterval    time.Duration
	PingTimeout     time.Duration
	MaxMessageBytes int64
	SendBuffer      int
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	sendMu sync.Mutex
	closed bool

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))

	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = config.PingInterval
	}

	// Balanced by Close; the server's shutdown path waits on the group.
	wg.Add(1)
	return &Connection{
		id:     id,
		conn:   conn,
		logger: connLogger,
		config: config,
		send:   make(chan []byte, config.SendBuffer),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
		wg:     wg,
	}
}

func (c *Connection) Run() {
	if c.config.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.config.MaxMessageBytes)
	}
	go c.readPump()
	go c.writePump()
	go c.heartbeat()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		typ, message, err := c.conn.Read(c.ctx)
		if err != nil {
			readErr = err
			return
		}
		// Only text frames carry commands; everything else is skipped.
		if typ != websocket.MessageText {
			continue
		}
		if c.onMessage != nil {
			// Pass a connection-scoped context to the handler.
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// heartbeat pings the peer on a fixed interval. The blocking Ping call doubles
// as the liveness check: a pong must arrive within PingTimeout or the
// connection is terminated and fully retired through the close handler.
func (c *Connection) heartbeat() {
	if c.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(c.ctx, c.config.PingTimeout)
			err := c.conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				c.Close(fmt.Errorf("heartbeat failed: %w", err))
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a message for the client. It is safe for concurrent use and
// never blocks: a full outbound queue drops the frame so a slow client cannot
// stall the dispatcher or grow memory without bound. The closed flag is
// checked under the same lock Close takes, so a frame is never accepted once
// Close has run.
func (c *Connection) Send(message []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		c.logger.Warn("Attempted to send on a closed connection")
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("Outbound queue full, dropping frame")
		return false
	}
}

// IsOpen reports whether the connection can still accept writes.
func (c *Connection) IsOpen() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// Close gracefully shuts down the connection and its resources.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.logger.Info("Transport connection closing", slog.Any("reason", err))

		c.sendMu.Lock()
		c.closed = true
		c.sendMu.Unlock()
		c.cancel() // Signal goroutines to stop.
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
		c.logger.Info("Connection closed")
	})
}

// Done returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
