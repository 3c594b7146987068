// Package fanout relays room events to connected sessions
package fanout

import (
	"encoding/json"
	"log/slog"

	"github.com/mikepea/tabletop/pkg/tabletop/metrics"
	"github.com/mikepea/tabletop/pkg/tabletop/sessions"
)

// Directory lists the sessions connected to a room
type Directory interface {
	Sessions(roomID uint) []*sessions.Session
	Disconnect(s *sessions.Session)
}

// Fanout delivers events to every session of a room except the one that caused them
type Fanout struct {
	dir Directory
}

// New creates a fanout over dir
func New(dir Directory) *Fanout {
	return &Fanout{dir: dir}
}

// Broadcast queues event for every session in roomID other than the
// originator and returns how many sessions accepted it. originSessionID only
// names the originator when that session belongs to originUserID.
//
// Delivery never blocks. A session whose queue is full is disconnected, which
// ends its stream; the client reconnects and reloads instead of silently
// missing the event.
func (f *Fanout) Broadcast(roomID, originUserID uint, originSessionID, event string, payload json.RawMessage) int {
	e := sessions.Event{Name: event, Payload: payload}

	delivered := 0
	for _, s := range f.dir.Sessions(roomID) {
		if originSessionID != "" && s.ID() == originSessionID {
			if s.UserID() == originUserID {
				continue
			}
			slog.Warn("Ignoring session id of another user", "session", s.ID(), "user", originUserID, "room", roomID)
		}
		if !s.Deliver(e) {
			metrics.FanoutDeliveriesTotal.WithLabelValues("dropped").Inc()
			slog.Warn("Disconnecting slow session", "event", event, "room", roomID, "session", s.ID())
			f.dir.Disconnect(s)
			continue
		}
		metrics.FanoutDeliveriesTotal.WithLabelValues("delivered").Inc()
		delivered++
	}
	return delivered
}
