// Package realtime streams quote updates to websocket clients. A hub owns
// the client registry; a poll loop feeds it refreshed quotes during market
// hours.
package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"miraikakaku/services/yahoo"
)

const (
	MaxClients    = 100
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendBufferLen = 64
)

// Message is the frame sent to clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// QuoteUpdate is the payload for quote frames
type QuoteUpdate struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PrevClose     float64 `json:"prev_close"`
	Timestamp     string  `json:"timestamp"`
}

// NewQuoteUpdate converts a fetched quote into the wire payload
func NewQuoteUpdate(q *yahoo.Quote) QuoteUpdate {
	return QuoteUpdate{
		Symbol:        q.Symbol,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Volume:        q.Volume,
		High:          q.High,
		Low:           q.Low,
		Open:          q.Open,
		PrevClose:     q.PrevClose,
		Timestamp:     q.MarketTime.Format(time.RFC3339),
	}
}

// Client is one websocket connection with its symbol subscriptions.
// An empty subscription set receives everything.
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

func (c *Client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscribed) == 0 {
		return true
	}
	return c.subscribed[symbol]
}

// Hub owns the client registry and fan-out
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	// Latest quote per symbol, served to clients on connect.
	quotes   map[string]QuoteUpdate
	quotesMu sync.RWMutex
}

// NewHub creates the hub and starts its run loop
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		quotes: make(map[string]QuoteUpdate),
	}
	go h.run()
	return h
}

// Shutdown closes all client connections and stops the hub
func (h *Hub) Shutdown() {
	close(h.shutdown)

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	log.Println("Realtime hub shutdown complete")
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity"))
				client.conn.Close()
				log.Printf("websocket client rejected: max clients reached (%d)", MaxClients)
				continue
			}
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket client connected, total %d", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket client disconnected, total %d", count)
		}
	}
}

// PublishQuotes caches the quotes and fans them out to subscribed clients
func (h *Hub) PublishQuotes(quotes []*yahoo.Quote) {
	for _, q := range quotes {
		update := NewQuoteUpdate(q)

		h.quotesMu.Lock()
		h.quotes[q.Symbol] = update
		h.quotesMu.Unlock()

		h.broadcast(q.Symbol, Message{
			Type: "quote",
			Data: update,
			Time: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// broadcast sends a message to every client subscribed to symbol. Clients
// with a full send buffer are dropped rather than blocking the hub.
func (h *Hub) broadcast(symbol string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("websocket: marshal broadcast: %v", err)
		return
	}

	h.mu.Lock()
	var dead []*Client
	for client := range h.clients {
		if !client.wants(symbol) {
			continue
		}
		select {
		case client.send <- data:
		default:
			dead = append(dead, client)
		}
	}
	for _, client := range dead {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// HandleWebSocket upgrades the connection and attaches it to the hub
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxClients
	h.mu.RUnlock()
	if atCapacity {
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}

	client := &Client{
		conn:       conn,
		send:       make(chan []byte, sendBufferLen),
		subscribed: make(map[string]bool),
	}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read: %v", err)
			}
			break
		}

		var cmd struct {
			Action  string   `json:"action"`
			Symbols []string `json:"symbols"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.mu.Lock()
			for _, s := range cmd.Symbols {
				c.subscribed[s] = true
			}
			c.mu.Unlock()
			h.sendSnapshot(c)
		case "unsubscribe":
			c.mu.Lock()
			for _, s := range cmd.Symbols {
				delete(c.subscribed, s)
			}
			c.mu.Unlock()
		}
	}
}

// sendSnapshot pushes the latest cached quotes for the client's
// subscriptions so new subscribers do not wait for the next poll.
func (h *Hub) sendSnapshot(c *Client) {
	h.quotesMu.RLock()
	updates := make([]QuoteUpdate, 0, len(h.quotes))
	for symbol, q := range h.quotes {
		if c.wants(symbol) {
			updates = append(updates, q)
		}
	}
	h.quotesMu.RUnlock()
	if len(updates) == 0 {
		return
	}

	data, err := json.Marshal(Message{
		Type: "snapshot",
		Data: updates,
		Time: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
