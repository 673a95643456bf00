// Package signal is the signaling-channel adapter: a websocket client
// that carries envelopes to and from the matchmaking server. The wire
// format lives here; the rest of the program sees typed payloads.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/karyven/peerchat/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Handler receives each inbound envelope: its type and the raw message
// for typed decoding.
type Handler func(t domain.EventType, data []byte)

// Client implements core.SignalBus over one websocket connection.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	handler Handler

	writeTimeout time.Duration
	pingPeriod   time.Duration

	mu     sync.RWMutex
	closed bool
}

// Options tunes the connection; zero values get defaults.
type Options struct {
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	SendBuffer   int
}

// Dial connects to the signaling server and starts the pumps. The
// handler runs on the read pump goroutine, so inbound envelopes for one
// connection are processed in order.
func Dial(ctx context.Context, url string, handler Handler, opts Options) (*Client, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:         conn,
		send:         make(chan []byte, opts.SendBuffer),
		handler:      handler,
		writeTimeout: opts.WriteTimeout,
		pingPeriod:   opts.PingPeriod,
	}
	go c.writePump(ctx)
	go c.readPump(ctx)
	log.Info().Str("module", "signal").Str("url", url).Msg("connected")
	return c, nil
}

// Send marshals payload under the given event type. A nil payload sends
// a bare control event.
func (c *Client) Send(t domain.EventType, payload any) error {
	env := map[string]any{"type": t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		env["type"] = t
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.trySend(data)
}

func (c *Client) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
	log.Info().Str("module", "signal").Msg("closed")
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		log.Info().Str("module", "signal").Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
					log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
				}
				return
			}
			c.dispatch(data)
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var env struct {
		Type domain.EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}
	if env.Type == "" {
		log.Warn().Str("module", "signal").Msg("envelope without type")
		return
	}
	if c.handler != nil {
		c.handler(env.Type, data)
	}
}
