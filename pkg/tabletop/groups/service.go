package groups

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/mikepea/tabletop/pkg/tabletop/metrics"
	"github.com/mikepea/tabletop/pkg/tabletop/models"
)

// Event names, shared by intents and the broadcasts they produce
const (
	EventCreate        = "Group.Create"
	EventUpdate        = "Group.Update"
	EventMembersUpdate = "Group.Members.Update"
	EventJoin          = "Group.Join"
	EventLeave         = "Group.Leave"
	EventRemove        = "Group.Remove"
)

// Broadcaster relays an event to every session of a room except the
// originator. The origin session only counts when it belongs to originUserID.
type Broadcaster interface {
	Broadcast(roomID, originUserID uint, originSessionID, event string, payload json.RawMessage) int
}

// Origin identifies where an intent came from and carries its payload as
// received, which is what other sessions are sent.
type Origin struct {
	RoomID    uint
	UserID    uint
	SessionID string
	Payload   json.RawMessage
}

// Result is returned to the session that sent an intent
type Result struct {
	Applied bool     `json:"applied"`
	Skipped []string `json:"skipped"`
}

// roomLocks is the number of sequencer stripes shared by all rooms
const roomLocks = 64

// Service applies group intents and relays them to the rest of the room
type Service struct {
	registry *Registry
	fanout   Broadcaster

	// a room always maps to the same stripe; unrelated rooms may share one
	locks [roomLocks]sync.Mutex
}

// NewService creates a service that writes through registry and relays through fanout
func NewService(registry *Registry, fanout Broadcaster) *Service {
	return &Service{
		registry: registry,
		fanout:   fanout,
	}
}

// Info returns the group with id as seen from roomID, or nil when it does not exist there
func (s *Service) Info(ctx context.Context, roomID uint, id string) (*models.Group, error) {
	group, err := s.registry.Get(ctx, roomID, id)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("Could not retrieve group information", "group", id)
		return nil, nil
	}
	return group, err
}

// Create adds a new group
func (s *Service) Create(ctx context.Context, origin Origin, group *models.Group) (Result, error) {
	return s.apply(origin, EventCreate, func() (*BatchResult, error) {
		return nil, s.registry.Create(ctx, group)
	})
}

// Update changes a group's character set or creation order
func (s *Service) Update(ctx context.Context, origin Origin, id string, patch Patch) (Result, error) {
	return s.apply(origin, EventUpdate, func() (*BatchResult, error) {
		return nil, s.registry.Update(ctx, origin.RoomID, id, patch)
	})
}

// UpdateBadges changes member badges
func (s *Service) UpdateBadges(ctx context.Context, origin Origin, members []Member) (Result, error) {
	return s.apply(origin, EventMembersUpdate, func() (*BatchResult, error) {
		return s.registry.UpdateBadges(ctx, origin.RoomID, members)
	})
}

// Join moves shapes into a group
func (s *Service) Join(ctx context.Context, origin Origin, groupID string, members []Member) (Result, error) {
	return s.apply(origin, EventJoin, func() (*BatchResult, error) {
		return s.registry.Join(ctx, origin.RoomID, groupID, members)
	})
}

// Leave takes shapes out of their groups
func (s *Service) Leave(ctx context.Context, origin Origin, entries []LeaveEntry) (Result, error) {
	return s.apply(origin, EventLeave, func() (*BatchResult, error) {
		return s.registry.Leave(ctx, origin.RoomID, entries)
	})
}

// Remove deletes a group and ungroups its members. Removing an absent group
// still counts as applied.
func (s *Service) Remove(ctx context.Context, origin Origin, id string) (Result, error) {
	return s.apply(origin, EventRemove, func() (*BatchResult, error) {
		_, err := s.registry.Remove(ctx, origin.RoomID, id)
		return nil, err
	})
}

// apply runs op and broadcasts the origin payload when it succeeds. The room
// lock is held until the broadcast is queued so every session sees a room's
// events in commit order.
func (s *Service) apply(origin Origin, event string, op func() (*BatchResult, error)) (Result, error) {
	defer metrics.ObserveIntent(event)()

	lock := s.roomLock(origin.RoomID)
	lock.Lock()
	defer lock.Unlock()

	batch, err := op()
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) {
		slog.Warn("Group intent skipped", "event", event, "room", origin.RoomID, "session", origin.SessionID, "error", err)
		metrics.GroupIntentsTotal.WithLabelValues(event, "skipped").Inc()
		return Result{Applied: false, Skipped: []string{}}, nil
	}
	if err != nil {
		slog.Error("Group intent failed", "event", event, "room", origin.RoomID, "error", err)
		metrics.GroupIntentsTotal.WithLabelValues(event, "failed").Inc()
		return Result{}, err
	}

	result := Result{Applied: true, Skipped: []string{}}
	if batch != nil {
		if batch.Skipped != nil {
			result.Skipped = batch.Skipped
		}
		if len(batch.Removed) > 0 {
			slog.Debug("Removed empty groups", "event", event, "groups", batch.Removed)
		}
	}

	delivered := s.fanout.Broadcast(origin.RoomID, origin.UserID, origin.SessionID, event, origin.Payload)
	metrics.GroupIntentsTotal.WithLabelValues(event, "applied").Inc()
	slog.Debug("Group intent applied", "event", event, "room", origin.RoomID, "delivered", delivered, "skipped", len(result.Skipped))

	return result, nil
}

func (s *Service) roomLock(roomID uint) *sync.Mutex {
	return &s.locks[roomID%roomLocks]
}
