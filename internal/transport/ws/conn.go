package ws

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	dialTimeout  = 15 * time.Second
	sendBufSize  = 64
	eventBufSize = 256

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

var (
	ErrNotConnected = errors.New("channel is not connected")
	ErrClosed       = errors.New("channel is closed")
)

// State is a connection lifecycle transition.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

// Conn owns the one persistent channel of a session: dial, authenticated
// handshake, reconnection with backoff, teardown. Push events arrive on
// Events, connect/disconnect transitions on States. Connection loss is never
// fatal: Conn keeps redialing until Close, and consumers keep their last
// known state in the meantime.
type Conn struct {
	rawURL string
	token  string

	mu        sync.Mutex
	connected bool
	closed    bool

	send   chan *Event
	events chan *Event
	states chan State

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConn(rawURL, token string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		rawURL: rawURL,
		token:  token,
		send:   make(chan *Event, sendBufSize),
		events: make(chan *Event, eventBufSize),
		states: make(chan State, 16),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events delivers every push event received on the channel, in wire order.
func (c *Conn) Events() <-chan *Event { return c.events }

// States delivers connect/disconnect transitions. Drain it: the first
// Connected transition is what triggers room re-joins downstream.
func (c *Conn) States() <-chan State { return c.states }

// Connected reports the last known channel state.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect performs the initial dial. A handshake failure here is surfaced to
// the caller (bad credentials are fatal, not retryable); once the first dial
// succeeds the connection is kept alive with backoff until Close.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go c.run(conn)
	return nil
}

// Send queues an event for delivery. It fails fast with ErrNotConnected while
// the channel is down; callers keep their state and resubmit after the next
// Connected transition.
func (c *Conn) Send(ev *Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	select {
	case c.send <- ev:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Close tears the channel down and stops reconnection. Both Events and States
// are closed before Close returns, so no consumer sees traffic afterwards.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	close(c.events)
	close(c.states)
}

func (c *Conn) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		c.setConnected(true)
		c.pushState(StateConnected)

		c.pump(conn)

		c.setConnected(false)
		conn.Close(websocket.StatusNormalClosure, "")

		if c.ctx.Err() != nil {
			return
		}
		c.pushState(StateDisconnected)

		next, err := c.redial()
		if err != nil {
			return // shut down mid-backoff
		}
		conn = next
	}
}

// pump serializes writes and pings and fans reads out to Events. It returns
// when the socket errors or the Conn shuts down.
func (c *Conn) pump(conn *websocket.Conn) {
	readErr := make(chan error, 1)
	incoming := make(chan *Event)
	// done releases a reader blocked on incoming when pump exits on a write
	// or ping error; the pending wsjson.Read unblocks when run closes the
	// socket right after.
	done := make(chan struct{})
	defer close(done)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			var ev Event
			if err := wsjson.Read(c.ctx, conn, &ev); err != nil {
				readErr <- err
				return
			}
			select {
			case incoming <- &ev:
			case <-done:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-incoming:
			select {
			case c.events <- ev:
			case <-c.ctx.Done():
				return
			}

		case ev := <-c.send:
			wctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				log.Printf("ws: write error: %v", err)
				return
			}

		case <-ticker.C:
			wctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := conn.Ping(wctx)
			cancel()
			if err != nil {
				log.Printf("ws: ping error: %v", err)
				return
			}

		case err := <-readErr:
			if websocket.CloseStatus(err) != -1 {
				log.Printf("ws: channel closed by server")
			} else {
				log.Printf("ws: read error: %v", err)
			}
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// redial retries the dial with capped exponential backoff and jitter until it
// succeeds or the Conn shuts down.
func (c *Conn) redial() (*websocket.Conn, error) {
	backoff := reconnectBase
	for {
		timer := time.NewTimer(withJitter(backoff))
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			return nil, c.ctx.Err()
		}

		conn, err := c.dial(c.ctx)
		if err == nil {
			log.Printf("ws: reconnected")
			return conn, nil
		}
		log.Printf("ws: reconnect failed: %v", err)

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return nil, err
	}
	// Auth via ?token=xxx query param (WebSocket can't send headers).
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

func (c *Conn) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Conn) pushState(s State) {
	select {
	case c.states <- s:
	case <-c.ctx.Done():
	}
}

func withJitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}
