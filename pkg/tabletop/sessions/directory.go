// Package sessions tracks the event streams connected to each room
package sessions

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mikepea/tabletop/pkg/tabletop/auth"
	"github.com/mikepea/tabletop/pkg/tabletop/metrics"
)

// SessionEvent is the first event on every stream. Its data is the session
// id, which clients send back with their intents.
const SessionEvent = "session"

// Event is a named payload queued for one session
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Session is one connected event stream
type Session struct {
	id     string
	roomID uint
	userID uint

	mu     sync.Mutex
	closed bool
	events chan Event
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// RoomID returns the room the session is connected to
func (s *Session) RoomID() uint { return s.roomID }

// UserID returns the user that opened the session
func (s *Session) UserID() uint { return s.userID }

// Events returns the queue the stream reads from. It is closed on disconnect.
func (s *Session) Events() <-chan Event { return s.events }

// Deliver queues an event without blocking. It returns false when the queue
// is full or the session is gone.
func (s *Session) Deliver(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Directory holds the connected sessions of every room
type Directory struct {
	buffer int

	mu    sync.RWMutex
	rooms map[uint]map[string]*Session
}

// NewDirectory creates a directory whose sessions queue up to buffer events
func NewDirectory(buffer int) *Directory {
	if buffer < 1 {
		buffer = 1
	}
	return &Directory{
		buffer: buffer,
		rooms:  make(map[uint]map[string]*Session),
	}
}

// Connect registers a new session for userID in roomID
func (d *Directory) Connect(roomID, userID uint) *Session {
	s := &Session{
		id:     uuid.NewString(),
		roomID: roomID,
		userID: userID,
		events: make(chan Event, d.buffer),
	}

	d.mu.Lock()
	room, ok := d.rooms[roomID]
	if !ok {
		room = make(map[string]*Session)
		d.rooms[roomID] = room
	}
	room[s.id] = s
	d.mu.Unlock()

	metrics.ConnectedSessions.Inc()
	slog.Debug("Session connected", "session", s.id, "room", roomID, "user", userID)
	return s
}

// Disconnect removes a session and closes its queue. Calling it twice is safe.
func (d *Directory) Disconnect(s *Session) {
	d.mu.Lock()
	room := d.rooms[s.roomID]
	_, ok := room[s.id]
	if ok {
		delete(room, s.id)
		if len(room) == 0 {
			delete(d.rooms, s.roomID)
		}
	}
	d.mu.Unlock()

	s.close()
	if ok {
		metrics.ConnectedSessions.Dec()
		slog.Debug("Session disconnected", "session", s.id, "room", s.roomID)
	}
}

// Sessions returns the sessions currently connected to roomID
func (d *Directory) Sessions(roomID uint) []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	room := d.rooms[roomID]
	sessions := make([]*Session, 0, len(room))
	for _, s := range room {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count returns the number of connected sessions across all rooms
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, room := range d.rooms {
		n += len(room)
	}
	return n
}

// Close disconnects every session, which ends their streams
func (d *Directory) Close() {
	d.mu.RLock()
	var all []*Session
	for _, room := range d.rooms {
		for _, s := range room {
			all = append(all, s)
		}
	}
	d.mu.RUnlock()

	for _, s := range all {
		d.Disconnect(s)
	}
}

// Stream serves the event stream of the caller's room
// @Summary Room events
// @Description Server-sent events. The first event is "session" with the session id.
// @Tags events
// @Produce text/event-stream
// @Param room path int true "Room ID"
// @Security BearerAuth
// @Router /rooms/{room}/events [get]
func (d *Directory) Stream(c *gin.Context) {
	roomID, ok := auth.GetRoomID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Room context required"})
		return
	}
	userID, _ := auth.GetUserID(c)

	s := d.Connect(roomID, userID)
	defer d.Disconnect(s)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(SessionEvent, s.ID())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return false
			}
			c.SSEvent(e.Name, e.Payload)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// RegisterRoutes registers the event stream on a room-scoped router group
func (d *Directory) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", d.Stream)
}
