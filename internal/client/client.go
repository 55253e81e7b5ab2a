// Package client connects to the relay server over a websocket and carries
// protocol lines in both directions.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("connection closed")

const (
	writeTimeout = 5 * time.Second
	inboxSize    = 64
)

// Conn is a connection to the relay. Send may be called from any goroutine.
type Conn struct {
	ws     *websocket.Conn
	log    *zap.SugaredLogger
	in     chan string
	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Dial connects to url, e.g. ws://localhost:8080/ws.
func Dial(ctx context.Context, url string, log *zap.SugaredLogger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	cctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     ws,
		log:    log,
		in:     make(chan string, inboxSize),
		ctx:    cctx,
		cancel: cancel,
	}
	go c.readLoop()
	log.Infow("connected", "url", url)
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.in)
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.setErr(err)
			return
		}
		if typ != websocket.MessageText {
			c.log.Warnw("ignoring binary message", "bytes", len(data))
			continue
		}
		c.log.Debugw("received", "line", string(data))
		select {
		case c.in <- string(data):
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Send writes one line.
func (c *Conn) Send(line string) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	c.log.Debugw("sent", "line", line)
	return nil
}

// Incoming yields every line received. It is closed when the connection ends.
func (c *Conn) Incoming() <-chan string { return c.in }

// Err returns the error that ended the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close says goodbye to the server and closes the connection.
func (c *Conn) Close() error {
	if c.ctx.Err() != nil {
		return nil
	}
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	return err
}
