package models

// Location is a map within a room. Index orders locations per room.
type Location struct {
	ID           uint   `gorm:"primarykey" json:"id"`
	RoomID       uint   `gorm:"not null;uniqueIndex:idx_locations_room_index,priority:1" json:"room_id"`
	Name         string `gorm:"not null" json:"name"`
	UnitSizeUnit string `gorm:"not null;default:'ft'" json:"unit_size_unit"`
	Index        int    `gorm:"column:index;not null;default:0;uniqueIndex:idx_locations_room_index,priority:2" json:"index"`

	Room Room `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Location) TableName() string { return "locations" }

// LocationUserOption stores a user's viewport for a location
type LocationUserOption struct {
	ID         uint    `gorm:"primarykey" json:"id"`
	LocationID uint    `gorm:"not null" json:"location_id"`
	UserID     uint    `gorm:"not null" json:"user_id"`
	PanX       float64 `gorm:"not null;default:0" json:"pan_x"`
	PanY       float64 `gorm:"not null;default:0" json:"pan_y"`
	Zoom       float64 `gorm:"not null;default:1" json:"zoom"`

	Location Location `gorm:"foreignKey:LocationID;constraint:OnDelete:CASCADE" json:"-"`
	User     User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (LocationUserOption) TableName() string { return "location_user_options" }

// Floor is a vertical level of a location
type Floor struct {
	ID         uint    `gorm:"primarykey" json:"id"`
	LocationID uint    `gorm:"not null" json:"location_id"`
	Name       *string `json:"name"`
	Index      int     `gorm:"column:index;not null" json:"index"`

	Location Location `gorm:"foreignKey:LocationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Floor) TableName() string { return "floors" }

// Layer holds shapes on a floor
type Layer struct {
	ID             uint   `gorm:"primarykey" json:"id"`
	FloorID        uint   `gorm:"not null" json:"floor_id"`
	Name           string `gorm:"not null" json:"name"`
	Type           string `gorm:"column:type_;not null" json:"type_"`
	PlayerVisible  bool   `gorm:"not null" json:"player_visible"`
	PlayerEditable bool   `gorm:"not null" json:"player_editable"`
	Selectable     bool   `gorm:"not null" json:"selectable"`
	Index          int    `gorm:"column:index;not null" json:"index"`

	Floor Floor `gorm:"foreignKey:FloorID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Layer) TableName() string { return "layers" }

// Marker is a per-user bookmark on a shape
type Marker struct {
	ID         uint   `gorm:"primarykey" json:"id"`
	ShapeID    string `gorm:"not null" json:"shape_id"`
	UserID     uint   `gorm:"not null" json:"user_id"`
	LocationID uint   `gorm:"not null" json:"location_id"`

	Shape    Shape    `gorm:"foreignKey:ShapeID;references:UUID;constraint:OnDelete:CASCADE" json:"-"`
	User     User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Location Location `gorm:"foreignKey:LocationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Marker) TableName() string { return "markers" }
