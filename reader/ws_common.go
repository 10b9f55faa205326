package reader

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cryptostream/exchange"
	"cryptostream/logger"
)

const (
	defaultReconnectDelay   = 5 * time.Second
	defaultKeepAlive        = 20 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

// conn serialises writes from the read loop, the keep-alive loop and book
// resyncs onto one websocket.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) WriteFrame(f exchange.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(f.Type, f.Payload)
}

func (c *conn) Close() error {
	return c.ws.Close()
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// startPingLoop sends the venue's application ping when it has one and a
// websocket control ping otherwise.
func startPingLoop(ctx context.Context, c *conn, ping *exchange.PingInterval, keepAlive time.Duration, log *logger.Entry) context.CancelFunc {
	interval := keepAlive
	if ping != nil {
		interval = ping.Interval
	}
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				var err error
				if ping != nil {
					err = c.WriteFrame(ping.Ping())
				} else {
					err = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				}
				if err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}
