package ws

import "sync"

// Hub is the broadcast-group registry: every conversation a connection has
// joined is a topic, plus one personal channel per user so all of a user's
// devices can be reached. All methods are safe for concurrent use.
type Hub struct {
	mu            sync.RWMutex
	clientsByConv map[string]map[*Client]struct{}
	clientsByUser map[string]map[*Client]struct{}
	convsByClient map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clientsByConv: make(map[string]map[*Client]struct{}),
		clientsByUser: make(map[string]map[*Client]struct{}),
		convsByClient: make(map[*Client]map[string]struct{}),
	}
}

// Register binds an authenticated connection to its user's personal channel.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clientsByUser[c.UserID]; !ok {
		h.clientsByUser[c.UserID] = make(map[*Client]struct{})
	}
	h.clientsByUser[c.UserID][c] = struct{}{}
	h.convsByClient[c] = make(map[string]struct{})
}

// Unregister removes the connection from its personal channel and implicitly
// leaves every conversation group it had joined.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for convID := range h.convsByClient[c] {
		if set, ok := h.clientsByConv[convID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clientsByConv, convID)
			}
		}
	}
	delete(h.convsByClient, c)
	if set, ok := h.clientsByUser[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clientsByUser, c.UserID)
		}
	}
}

// Subscribe adds the connection to a conversation's broadcast group.
// Membership must already have been verified by the caller.
func (h *Hub) Subscribe(convID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.convsByClient[c]; !ok {
		// connection already unregistered
		return
	}
	if _, ok := h.clientsByConv[convID]; !ok {
		h.clientsByConv[convID] = make(map[*Client]struct{})
	}
	h.clientsByConv[convID][c] = struct{}{}
	h.convsByClient[c][convID] = struct{}{}
}

// Joined reports whether the connection passed the join check for convID.
func (h *Hub) Joined(convID string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.convsByClient[c][convID]
	return ok
}

// Broadcast delivers payload to every connection in the conversation's
// group, the sender's own connections included. Slow consumers are dropped
// rather than blocking the group.
func (h *Hub) Broadcast(convID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByConv[convID] {
		c.TrySend(payload)
	}
}

// BroadcastExcept is Broadcast minus one connection's user; used for
// presence events the originator should not echo back.
func (h *Hub) BroadcastExcept(convID string, except *Client, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByConv[convID] {
		if c == except {
			continue
		}
		c.TrySend(payload)
	}
}

// SendToUser reaches every active connection of one user.
func (h *Hub) SendToUser(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByUser[userID] {
		c.TrySend(payload)
	}
}
