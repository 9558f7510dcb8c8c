// internal/handler/websocket_types.go
package handler

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client kinds
const (
	clientSession = "session"
	clientEvents  = "events"
)

// Client is one websocket connection. SessionID is nil for clients of
// the all-sessions event stream.
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	Type        string          `json:"type"`
	SessionID   *uuid.UUID      `json:"session_id,omitempty"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	// Frames selects whether FRAME events are forwarded
	Frames bool `json:"frames"`

	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the client is unregistered
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// wants reports whether an event of a session and kind goes to the client
func (c *Client) wants(sessionID uuid.UUID, frame bool) bool {
	if c.SessionID != nil && *c.SessionID != sessionID {
		return false
	}
	return c.Frames || !frame
}

// WebSocketMessage is the envelope of every message in both directions
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// clientSet tracks connected clients
type clientSet struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[string]*Client)}
}

func (cs *clientSet) add(client *Client) {
	cs.mu.Lock()
	cs.clients[client.ID] = client
	cs.mu.Unlock()
}

// remove forgets a client and signals its goroutines to stop
func (cs *clientSet) remove(client *Client) {
	cs.mu.Lock()
	delete(cs.clients, client.ID)
	cs.mu.Unlock()
	client.close()
}

func (cs *clientSet) closeAll() {
	cs.mu.Lock()
	clients := cs.clients
	cs.clients = make(map[string]*Client)
	cs.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// stats lists clients oldest first
func (cs *clientSet) stats() *ConnectionStats {
	cs.mu.RLock()
	stats := &ConnectionStats{
		TotalConnections: len(cs.clients),
		ByType:           make(map[string]int),
		Clients:          make([]*Client, 0, len(cs.clients)),
	}
	for _, client := range cs.clients {
		stats.ByType[client.Type]++
		stats.Clients = append(stats.Clients, client)
	}
	cs.mu.RUnlock()

	sort.Slice(stats.Clients, func(i, j int) bool {
		return stats.Clients[i].ConnectedAt.Before(stats.Clients[j].ConnectedAt)
	})
	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByType           map[string]int `json:"by_type"`
	Clients          []*Client      `json:"clients"`
}
