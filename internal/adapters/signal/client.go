package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is the endpoint side of the signaling socket.
type Client struct {
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}
	once sync.Once
}

// Dial connects to the relay. token is sent as a bearer credential.
func Dial(ctx context.Context, url, token string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(opts.ReadLimit)
	c := &Client{
		conn: ws,
		send: make(chan core.Frame, opts.SendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	log.Info().Str("module", "signal.client").Str("url", url).Msg("connected to relay")
	return c, nil
}

// Send queues a message without waiting for the network.
func (c *Client) Send(ctx context.Context, m *protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return core.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// QueryPresence asks the relay for a user's status; the answer arrives as a
// presence message on Listen.
func (c *Client) QueryPresence(ctx context.Context, user domain.UserID) error {
	return c.Send(ctx, &protocol.Message{Type: protocol.KindPresence, UserID: user})
}

// Listen delivers inbound messages to fn until the socket closes or ctx ends.
func (c *Client) Listen(ctx context.Context, fn func(*protocol.Message)) error {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal.client").Msg("bad message from relay")
			continue
		}
		fn(msg)
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal.client").Msg("write")
				c.Close()
				return
			}
		}
	}
}
