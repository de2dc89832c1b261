/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2026-01-12
 *
 * WebSocket 信令客户端
 * 连接房间中继服务，读写泵模式，带 ping 保活
 */
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maiguangyang/call_core/pkg/utils"
)

// ErrSendBufferFull indicates the write pump is not keeping up
var ErrSendBufferFull = errors.New("signaling send buffer full")

// WSConfig WebSocket 客户端配置
type WSConfig struct {
	// 中继地址，例如 ws://127.0.0.1:8080/call
	URL string
	// 房间（chatSessionId）与本端用户
	RoomID string
	UserID string
	// 额外请求头（鉴权 token 等）
	Header http.Header

	PingInterval time.Duration
	WriteTimeout time.Duration
}

// DefaultWSConfig returns defaults for the timing fields
func DefaultWSConfig() WSConfig {
	return WSConfig{
		PingInterval: 20 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// WSClient implements Signaler over a gorilla websocket connection
type WSClient struct {
	cfg  WSConfig
	conn *websocket.Conn
	send chan []byte
	out  *fanout

	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// DialWS connects to the relay and starts the read/write pumps
func DialWS(ctx context.Context, cfg WSConfig) (*WSClient, error) {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultWSConfig().PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWSConfig().WriteTimeout
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse signaling url: %w", err)
	}
	q := u.Query()
	q.Set("room", cfg.RoomID)
	q.Set("user", cfg.UserID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling %s: %w", cfg.URL, err)
	}

	c := &WSClient{
		cfg:  cfg,
		conn: conn,
		send: make(chan []byte, 256),
		out:  newFanout(),
		done: make(chan struct{}),
	}
	c.connected.Store(true)

	go c.writePump()
	go c.readPump()

	utils.Info("Signaling connected: room=%s user=%s", cfg.RoomID, cfg.UserID)
	return c, nil
}

// Send implements Signaler
func (c *WSClient) Send(msg Message) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

// Subscribe implements Signaler
func (c *WSClient) Subscribe() (<-chan Message, func()) {
	return c.out.subscribe()
}

// Connected implements Signaler
func (c *WSClient) Connected() bool {
	return c.connected.Load()
}

// Close shuts the connection down; subscriptions are closed
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
	})
	return nil
}

func (c *WSClient) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		c.out.closeAll()
	}()

	readTimeout := c.cfg.PingInterval * 2
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("Signaling connection lost: room=%s err=%v", c.cfg.RoomID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := Decode(raw)
		if err != nil {
			utils.Debug("Signaling: dropping frame: %v", err)
			continue
		}
		if dropped := c.out.publish(msg); dropped > 0 {
			utils.Warn("Signaling: %d subscriber(s) too slow, dropped %s", dropped, msg.Type())
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				utils.Warn("Signaling write failed: %v", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
