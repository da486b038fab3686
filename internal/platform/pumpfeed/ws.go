package pumpfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solcast/marketd/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TokenLaunchHandler is called for every new token launch event on the stream.
type TokenLaunchHandler func(domain.Token)

// WSClient streams token launch events from the feed's real-time endpoint.
// It manages the connection lifecycle and dispatches events to registered
// handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	launchHandlers []TokenLaunchHandler
	handlerMu      sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a websocket client for the given stream URL.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the websocket connection and subscribes to the launch
// stream.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("pumpfeed/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pumpfeed/ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	if err := w.sendSubscribe(); err != nil {
		return fmt.Errorf("pumpfeed/ws: subscribe: %w", err)
	}

	return nil
}

// OnTokenLaunch registers a handler invoked for every new token launch.
func (w *WSClient) OnTokenLaunch(handler TokenLaunchHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.launchHandlers = append(w.launchHandlers, handler)
}

// Close shuts down the websocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// sendSubscribe sends the launch subscription command. Caller must hold w.mu.
func (w *WSClient) sendSubscribe() error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	cmd := struct {
		Method string `json:"method"`
	}{Method: "subscribeNewToken"}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages and dispatches launch events. On
// disconnect, it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the websocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw stream message and dispatches launch events.
func (w *WSClient) handleMessage(raw []byte) {
	var apiToken APIToken
	if err := json.Unmarshal(raw, &apiToken); err != nil {
		return // Silently drop unparseable messages.
	}
	if apiToken.Address == "" {
		return // Subscription acks and heartbeats carry no token.
	}

	token := apiToken.ToDomainToken(time.Now().Unix())

	w.handlerMu.RLock()
	handlers := w.launchHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(token)
	}
}

// reconnect attempts to re-establish the connection with exponential backoff.
// It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
