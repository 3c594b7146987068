// Package groups keeps shape groups in sync across the sessions of a room.
//
// A group exists only while at least one shape refers to it. Every operation
// that can shrink a group's membership finishes by deleting the groups it
// emptied, so merges and splits are plain Join calls.
//
// Groups have no room of their own; a group belongs to the room its member
// shapes are in. Registry calls only see shapes of the given room, and treat
// a group with members elsewhere as not found.
package groups

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mikepea/tabletop/pkg/tabletop/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("group not found")
	ErrAlreadyExists = errors.New("group already exists")
)

// Member assigns a badge to a shape
type Member struct {
	UUID  string `json:"uuid" binding:"required"`
	Badge int    `json:"badge"`
}

// LeaveEntry names a shape and the group it is leaving
type LeaveEntry struct {
	UUID    string `json:"uuid" binding:"required"`
	GroupID string `json:"group_id" binding:"required"`
}

// Patch holds the group fields to change. Nil fields are left alone.
type Patch struct {
	CharacterSet  *[]string
	CreationOrder *string
}

// BatchResult reports what a multi-shape operation did
type BatchResult struct {
	// Skipped lists shape uuids that did not exist
	Skipped []string
	// Removed lists groups deleted because they were left without members
	Removed []string
}

func newBatchResult() *BatchResult {
	return &BatchResult{Skipped: []string{}, Removed: []string{}}
}

// Registry reads and writes groups and shape membership
type Registry struct {
	db *gorm.DB
}

// NewRegistry creates a registry on the given store
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Get returns the group with id as seen from roomID
func (r *Registry) Get(ctx context.Context, roomID uint, id string) (*models.Group, error) {
	var group *models.Group
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		visible, err := groupInRoom(tx, roomID, id)
		if err != nil {
			return err
		}
		if !visible {
			return ErrNotFound
		}

		group = &models.Group{}
		return tx.Where("uuid = ?", id).First(group).Error
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// Create inserts a new group. Shapes are not touched.
func (r *Registry) Create(ctx context.Context, group *models.Group) error {
	if group.CharacterSet == nil {
		group.CharacterSet = []string{}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := groupExists(tx, group.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyExists
		}
		return tx.Create(group).Error
	})
}

// Update applies patch to an existing group. Membership is not touched.
func (r *Registry) Update(ctx context.Context, roomID uint, id string, patch Patch) error {
	updates := map[string]interface{}{}
	if patch.CharacterSet != nil {
		set := *patch.CharacterSet
		if set == nil {
			set = []string{}
		}
		updates["character_set"] = datatypes.JSONSlice[string](set)
	}
	if patch.CreationOrder != nil {
		updates["creation_order"] = *patch.CreationOrder
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		visible, err := groupInRoom(tx, roomID, id)
		if err != nil {
			return err
		}
		if !visible {
			return ErrNotFound
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&models.Group{}).Where("uuid = ?", id).Updates(updates).Error
	})
}

// UpdateBadges sets the badge of each listed shape. Missing shapes are
// skipped; group membership is left alone.
func (r *Registry) UpdateBadges(ctx context.Context, roomID uint, members []Member) (*BatchResult, error) {
	result := newBatchResult()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range members {
			updated, err := updateShape(tx, roomID, m.UUID, map[string]interface{}{"badge": m.Badge})
			if err != nil {
				return err
			}
			if !updated {
				slog.Warn("Could not update badge of unknown shape", "shape", m.UUID)
				result.Skipped = append(result.Skipped, m.UUID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Join moves each listed shape into groupID with the given badge. Groups the
// shapes came from are deleted when nothing is left in them, which is how
// both merging and splitting groups are expressed.
func (r *Registry) Join(ctx context.Context, roomID uint, groupID string, members []Member) (*BatchResult, error) {
	result := newBatchResult()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		visible, err := groupInRoom(tx, roomID, groupID)
		if err != nil {
			return err
		}
		if !visible {
			return ErrNotFound
		}

		var candidates candidateSet
		for _, m := range members {
			shape, err := findShape(tx, roomID, m.UUID)
			if err != nil {
				return err
			}
			if shape == nil {
				slog.Warn("Could not update group of unknown shape", "shape", m.UUID, "group", groupID)
				result.Skipped = append(result.Skipped, m.UUID)
				continue
			}

			if shape.GroupID != nil && *shape.GroupID != groupID {
				candidates.add(*shape.GroupID)
			}
			if _, err := updateShape(tx, roomID, m.UUID, map[string]interface{}{"group_id": groupID, "badge": m.Badge}); err != nil {
				return err
			}
		}

		result.Removed, err = removeAllIfEmpty(tx, candidates)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Leave takes each listed shape out of its group and hides its badge.
// Both the group named by the caller and the group stored on the shape are
// checked for emptiness afterwards.
func (r *Registry) Leave(ctx context.Context, roomID uint, entries []LeaveEntry) (*BatchResult, error) {
	result := newBatchResult()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates candidateSet
		for _, e := range entries {
			shape, err := findShape(tx, roomID, e.UUID)
			if err != nil {
				return err
			}
			if shape == nil {
				slog.Warn("Could not remove group of unknown shape", "shape", e.UUID, "group", e.GroupID)
				result.Skipped = append(result.Skipped, e.UUID)
				continue
			}

			if shape.GroupID != nil {
				candidates.add(*shape.GroupID)
			}
			// a group named by the caller is only cleaned up if it is this room's
			if e.GroupID != "" && (shape.GroupID == nil || *shape.GroupID != e.GroupID) {
				visible, err := groupInRoom(tx, roomID, e.GroupID)
				if err != nil {
					return err
				}
				if visible {
					candidates.add(e.GroupID)
				}
			}
			if _, err := updateShape(tx, roomID, e.UUID, map[string]interface{}{"group_id": nil, "show_badge": false}); err != nil {
				return err
			}
		}

		var err error
		result.Removed, err = removeAllIfEmpty(tx, candidates)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Remove detaches every member of groupID and deletes the group.
// It reports whether the group existed; removing an absent group is a no-op.
// A group with members in another room is ErrNotFound.
func (r *Registry) Remove(ctx context.Context, roomID uint, groupID string) (bool, error) {
	var removed bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := groupExists(tx, groupID)
		if err != nil || !exists {
			return err
		}
		visible, err := groupInRoom(tx, roomID, groupID)
		if err != nil {
			return err
		}
		if !visible {
			return ErrNotFound
		}

		err = tx.Model(&models.Shape{}).
			Scopes(inRoom(roomID)).
			Where("group_id = ?", groupID).
			Updates(map[string]interface{}{"group_id": nil, "show_badge": false}).Error
		if err != nil {
			return err
		}

		removed, err = removeIfEmpty(tx, groupID)
		return err
	})
	return removed, err
}

// candidateSet collects group ids in first-seen order
type candidateSet struct {
	ids  []string
	seen map[string]bool
}

func (s *candidateSet) add(id string) {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[id] {
		return
	}
	s.seen[id] = true
	s.ids = append(s.ids, id)
}

// roomLayers selects the layers of a room through floors and locations
const roomLayers = `SELECT layers.id FROM layers
	JOIN floors ON floors.id = layers.floor_id
	JOIN locations ON locations.id = floors.location_id
	WHERE locations.room_id = ?`

// inRoom limits a shapes query to the shapes of roomID
func inRoom(roomID uint) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("layer_id IN ("+roomLayers+")", roomID)
	}
}

// groupInRoom reports whether id exists and has no members outside roomID.
// A group without members is visible from every room.
func groupInRoom(tx *gorm.DB, roomID uint, id string) (bool, error) {
	exists, err := groupExists(tx, id)
	if err != nil || !exists {
		return false, err
	}

	var elsewhere int64
	err = tx.Model(&models.Shape{}).
		Where("group_id = ?", id).
		Where("layer_id NOT IN ("+roomLayers+")", roomID).
		Count(&elsewhere).Error
	if err != nil {
		return false, err
	}
	return elsewhere == 0, nil
}

func groupExists(tx *gorm.DB, id string) (bool, error) {
	var count int64
	if err := tx.Model(&models.Group{}).Where("uuid = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// findShape returns nil when the shape does not exist in roomID
func findShape(tx *gorm.DB, roomID uint, uuid string) (*models.Shape, error) {
	var shape models.Shape
	err := tx.Scopes(inRoom(roomID)).Select("uuid", "group_id").Where("uuid = ?", uuid).First(&shape).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shape, nil
}

// updateShape reports false when roomID has no shape with uuid
func updateShape(tx *gorm.DB, roomID uint, uuid string, updates map[string]interface{}) (bool, error) {
	result := tx.Model(&models.Shape{}).Scopes(inRoom(roomID)).Where("uuid = ?", uuid).Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func countMembers(tx *gorm.DB, groupID string) (int64, error) {
	var count int64
	err := tx.Model(&models.Shape{}).Where("group_id = ?", groupID).Count(&count).Error
	return count, err
}

// removeIfEmpty deletes groupID when no shape refers to it. It reports
// whether a group was deleted and is a no-op for absent groups.
func removeIfEmpty(tx *gorm.DB, groupID string) (bool, error) {
	exists, err := groupExists(tx, groupID)
	if err != nil || !exists {
		return false, err
	}

	count, err := countMembers(tx, groupID)
	if err != nil || count > 0 {
		return false, err
	}

	if err := tx.Where("uuid = ?", groupID).Delete(&models.Group{}).Error; err != nil {
		return false, err
	}
	slog.Debug("Removed empty group", "group", groupID)
	return true, nil
}

func removeAllIfEmpty(tx *gorm.DB, candidates candidateSet) ([]string, error) {
	removed := []string{}
	for _, id := range candidates.ids {
		ok, err := removeIfEmpty(tx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	return removed, nil
}
