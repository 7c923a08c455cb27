package feishu

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

// pullTransport maintains the provider's long connection: a persistent
// websocket over which events are pushed without a public endpoint.
// Reconnects use a fixed delay with unbounded retries; at most one
// reconnect timer is pending at any time.
type pullTransport struct {
	url            string
	heartbeat      time.Duration
	reconnectDelay time.Duration
	authorize      func(ctx context.Context) (string, error)
	onEvent        func([]byte)
	onReady        func()

	mu        sync.Mutex
	conn      *websocket.Conn
	reconnect *time.Timer
	closed    bool
	connected atomic.Bool
}

func (t *pullTransport) Start(ctx context.Context) error {
	go t.connect(ctx)
	return nil
}

func (t *pullTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	if t.reconnect != nil {
		t.reconnect.Stop()
		t.reconnect = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.connected.Store(false)
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		return conn.Close()
	}
	return nil
}

func (t *pullTransport) Connected() bool {
	return t.connected.Load()
}

func (t *pullTransport) connect(ctx context.Context) {
	if ctx.Err() != nil || t.isClosed() {
		return
	}

	header := http.Header{}
	if t.authorize != nil {
		token, err := t.authorize(ctx)
		if err != nil {
			logger.WarnCF(channelName, "Long connection auth failed", map[string]any{"error": err.Error()})
			t.scheduleReconnect(ctx)
			return
		}
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.url, header)
	cancel()
	if err != nil {
		logger.WarnCF(channelName, "Long connection dial failed", map[string]any{
			"url":   t.url,
			"error": err.Error(),
		})
		t.scheduleReconnect(ctx)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	t.connected.Store(true)
	logger.InfoC(channelName, "Long connection established")
	if t.onReady != nil {
		go t.onReady()
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go t.heartbeatLoop(hbCtx, conn)

	t.readLoop(ctx, conn)
	stopHeartbeat()
}

func (t *pullTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.connected.Store(false)
			conn.Close()
			if ctx.Err() == nil && !t.isClosed() {
				logger.WarnCF(channelName, "Long connection lost", map[string]any{"error": err.Error()})
				t.scheduleReconnect(ctx)
			}
			return
		}
		t.handleFrame(conn, raw)
	}
}

func (t *pullTransport) handleFrame(conn *websocket.Conn, raw []byte) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.WarnCF(channelName, "Dropping unparseable frame", map[string]any{"error": err.Error()})
		return
	}

	if env.Challenge != "" {
		reply, _ := json.Marshal(map[string]string{"challenge": env.Challenge})
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			logger.WarnCF(channelName, "Challenge echo failed", map[string]any{"error": err.Error()})
		}
		return
	}

	t.onEvent(raw)
}

func (t *pullTransport) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// The read loop observes the broken connection and reconnects.
				conn.Close()
				return
			}
		}
	}
}

// scheduleReconnect arms a single pending reconnect timer; arming again
// cancels the previous one.
func (t *pullTransport) scheduleReconnect(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || ctx.Err() != nil {
		return
	}
	if t.reconnect != nil {
		t.reconnect.Stop()
	}
	t.reconnect = time.AfterFunc(t.reconnectDelay, func() {
		t.connect(ctx)
	})
}

func (t *pullTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
