package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"chat-engine/internal/models"
	"chat-engine/internal/observability"
)

// Session is one live connection that can receive conversation events.
type Session interface {
	ID() string
	UserID() int64
	// Deliver enqueues payload without blocking. It returns false when the
	// session cannot take more data.
	Deliver(payload []byte) bool
	Close()
}

type group struct {
	// mu serializes publishes so every session sees one group's events in order.
	mu       sync.Mutex
	sessions map[string]Session
}

// Hub maintains the conversation groups of live sessions.
type Hub struct {
	mu      sync.RWMutex
	groups  map[int64]*group
	members map[string]map[int64]struct{}
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		groups:  make(map[int64]*group),
		members: make(map[string]map[int64]struct{}),
		logger:  logger.With("component", "hub"),
	}
}

// Join adds s to the conversation's group. Joining twice is a no-op.
func (h *Hub) Join(conversationID int64, s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[conversationID]
	if !ok {
		g = &group{sessions: make(map[string]Session)}
		h.groups[conversationID] = g
	}
	g.mu.Lock()
	g.sessions[s.ID()] = s
	g.mu.Unlock()

	if _, ok := h.members[s.ID()]; !ok {
		h.members[s.ID()] = make(map[int64]struct{})
	}
	h.members[s.ID()][conversationID] = struct{}{}
}

// Leave removes the session from one group. The group is dropped once empty.
func (h *Hub) Leave(conversationID int64, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conversationID, sessionID)
}

func (h *Hub) leaveLocked(conversationID int64, sessionID string) {
	if g, ok := h.groups[conversationID]; ok {
		g.mu.Lock()
		delete(g.sessions, sessionID)
		empty := len(g.sessions) == 0
		g.mu.Unlock()
		if empty {
			delete(h.groups, conversationID)
		}
	}
	if convs, ok := h.members[sessionID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(h.members, sessionID)
		}
	}
}

// Disconnect removes the session from every group it joined.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conversationID := range h.members[sessionID] {
		h.leaveLocked(conversationID, sessionID)
	}
}

// RemoveUser drops every session of userID from the conversation's group and
// tells each of them with a removed frame. Other groups are untouched.
func (h *Hub) RemoveUser(conversationID, userID int64) {
	h.mu.Lock()
	var removed []Session
	if g, ok := h.groups[conversationID]; ok {
		g.mu.Lock()
		for _, s := range g.sessions {
			if s.UserID() == userID {
				removed = append(removed, s)
			}
		}
		g.mu.Unlock()
	}
	for _, s := range removed {
		h.leaveLocked(conversationID, s.ID())
	}
	h.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	payload, err := json.Marshal(models.ChatEvent{Type: models.EventRemoved, ConversationID: conversationID})
	if err != nil {
		return
	}
	for _, s := range removed {
		s.Deliver(payload)
	}
	h.logger.Debug("removed user sessions", "conversation_id", conversationID, "user_id", userID, "sessions", len(removed))
}

// Publish sends event to every session in the conversation's group. Sessions
// whose buffer is full are disconnected and closed; they resync from history.
func (h *Hub) Publish(conversationID int64, event models.ChatEvent) {
	h.mu.RLock()
	g, ok := h.groups[conversationID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode event failed", "conversation_id", conversationID, "type", event.Type, "err", err)
		return
	}

	var slow []Session
	g.mu.Lock()
	for _, s := range g.sessions {
		if s.Deliver(payload) {
			observability.IncFanout("delivered")
			continue
		}
		slow = append(slow, s)
	}
	g.mu.Unlock()

	for _, s := range slow {
		observability.IncFanout("dropped")
		h.logger.Warn("dropping slow session", "conversation_id", conversationID, "session_id", s.ID())
		h.Disconnect(s.ID())
		s.Close()
	}
}

// Sessions reports how many sessions are in the conversation's group.
func (h *Hub) Sessions(conversationID int64) int {
	h.mu.RLock()
	g, ok := h.groups[conversationID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}
