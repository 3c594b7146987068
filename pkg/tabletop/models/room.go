package models

// Role is a player's role within a room
type Role int

const (
	RolePlayer Role = 0
	RoleDM     Role = 1
)

// Room is a collaborative session scope. Connected sessions are tracked in
// memory by package sessions; only durable room state lives here.
type Room struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	Name      string `gorm:"not null;uniqueIndex:idx_rooms_name_creator" json:"name"`
	CreatorID uint   `gorm:"not null;uniqueIndex:idx_rooms_name_creator" json:"creator_id"`
	IsLocked  bool   `gorm:"not null;default:false" json:"is_locked"`

	Creator User `gorm:"foreignKey:CreatorID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Room) TableName() string { return "rooms" }

// PlayerRoom grants a user access to a room
type PlayerRoom struct {
	ID               uint  `gorm:"primarykey" json:"id"`
	PlayerID         uint  `gorm:"not null;index" json:"player_id"`
	RoomID           uint  `gorm:"not null;index" json:"room_id"`
	Role             Role  `gorm:"not null;default:0" json:"role"`
	ActiveLocationID *uint `json:"active_location_id"`

	Player         User      `gorm:"foreignKey:PlayerID;constraint:OnDelete:CASCADE" json:"-"`
	Room           Room      `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
	ActiveLocation *Location `gorm:"foreignKey:ActiveLocationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (PlayerRoom) TableName() string { return "player_rooms" }
