// Package wsbus is a reference implementation of transport.Bus over
// websockets (github.com/gorilla/websocket), used by cmd/actorproc. It is
// not the production transport —
// §6.3 treats the bus as an external collaborator — but it is a complete,
// working loopback so the rest of the kernel can be exercised end to end
// without a real message broker.
package wsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/testbed-kernel/internal/wire"
)

// Hub is the shared in-process broker: one http.Server speaking the
// websocket upgrade protocol, fanning out every message sent to a topic to
// every connection subscribed to that topic.
type Hub struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string][]*websocket.Conn
}

// NewHub starts a loopback websocket broker.
func NewHub() *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[string][]*websocket.Conn),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/topics/", h.handleUpgrade)
	h.server = httptest.NewServer(mux)
	return h
}

// Addr returns the ws:// base URL of the hub.
func (h *Hub) Addr() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

// Close shuts down the broker and every open connection.
func (h *Hub) Close() {
	h.mu.Lock()
	for _, conns := range h.subs {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	h.subs = nil
	h.mu.Unlock()
	h.server.Close()
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimPrefix(r.URL.Path, "/topics/")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.subs[topic] = append(h.subs[topic], conn)
	h.mu.Unlock()
}

func (h *Hub) publish(topic string, payload []byte) error {
	h.mu.RLock()
	conns := append([]*websocket.Conn(nil), h.subs[topic]...)
	h.mu.RUnlock()
	var firstErr error
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Bus is a client of a Hub implementing transport.Bus.
type Bus struct {
	hub *Hub

	mu        sync.Mutex
	senders   map[string]*websocket.Conn
}

// New binds a Bus to hub; callers on different logical actors typically
// share one Hub within a test process.
func New(hub *Hub) *Bus {
	return &Bus{hub: hub, senders: make(map[string]*websocket.Conn)}
}

func (b *Bus) dial(topic string) (*websocket.Conn, error) {
	u, err := url.Parse(b.hub.Addr() + "/topics/" + topic)
	if err != nil {
		return nil, fmt.Errorf("parse topic url: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial topic %s: %w", topic, err)
	}
	return conn, nil
}

// Send publishes env to topic via the shared Hub.
func (b *Bus) Send(ctx context.Context, topic string, env wire.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	b.mu.Lock()
	conn, ok := b.senders[topic]
	if !ok {
		var derr error
		conn, derr = b.dial(topic)
		if derr != nil {
			b.mu.Unlock()
			return derr
		}
		b.senders[topic] = conn
	}
	b.mu.Unlock()

	return b.hub.publish(topic, payload)
}

// Subscribe registers handler for every envelope delivered to topic. It
// dials the hub and runs a read loop on a background goroutine until ctx
// is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler func(wire.Envelope)) error {
	conn, err := b.dial(topic)
	if err != nil {
		return err
	}
	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env wire.Envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				continue
			}
			handler(env)
		}
	}()
	return nil
}

// Close closes every sender connection this Bus opened.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.senders {
		_ = c.Close()
	}
	return nil
}
