package models

// Shape is a placeable object on a layer. Shapes are created by the layer
// subsystem; the group code only touches GroupID, Badge and ShowBadge.
type Shape struct {
	UUID                string  `gorm:"column:uuid;primaryKey" json:"uuid"`
	LayerID             uint    `gorm:"not null" json:"layer_id"`
	Type                string  `gorm:"column:type_;not null" json:"type_"`
	X                   float64 `gorm:"not null" json:"x"`
	Y                   float64 `gorm:"not null" json:"y"`
	Name                *string `json:"name"`
	GroupID             *string `gorm:"index" json:"group"`
	Badge               int     `gorm:"not null;default:1" json:"badge"`
	ShowBadge           bool    `gorm:"not null;default:false" json:"show_badge"`
	DefaultEditAccess   bool    `gorm:"not null;default:false" json:"default_edit_access"`
	DefaultVisionAccess bool    `gorm:"not null;default:false" json:"default_vision_access"`

	Layer Layer  `gorm:"foreignKey:LayerID;constraint:OnDelete:CASCADE" json:"-"`
	Group *Group `gorm:"foreignKey:GroupID;references:ID;constraint:OnDelete:SET NULL" json:"-"`
}

func (Shape) TableName() string { return "shapes" }

// ShapeOwner grants a user access to a shape
type ShapeOwner struct {
	ID           uint   `gorm:"primarykey" json:"id"`
	ShapeID      string `gorm:"not null" json:"shape_id"`
	UserID       uint   `gorm:"not null" json:"user_id"`
	EditAccess   bool   `gorm:"not null;default:true" json:"edit_access"`
	VisionAccess bool   `gorm:"not null;default:true" json:"vision_access"`

	Shape Shape `gorm:"foreignKey:ShapeID;references:UUID;constraint:OnDelete:CASCADE" json:"-"`
	User  User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

func (ShapeOwner) TableName() string { return "shape_owners" }

// Rect is the geometry of a rectangular shape
type Rect struct {
	ShapeID string  `gorm:"primaryKey" json:"shape_id"`
	Width   float64 `gorm:"not null" json:"width"`
	Height  float64 `gorm:"not null" json:"height"`

	Shape Shape `gorm:"foreignKey:ShapeID;references:UUID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Rect) TableName() string { return "rects" }

// Circle is the geometry of a circular shape
type Circle struct {
	ShapeID string  `gorm:"primaryKey" json:"shape_id"`
	Radius  float64 `gorm:"not null" json:"radius"`

	Shape Shape `gorm:"foreignKey:ShapeID;references:UUID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Circle) TableName() string { return "circles" }

// Polygon is the geometry of a polygon or, when open, a polyline
type Polygon struct {
	ShapeID     string `gorm:"primaryKey" json:"shape_id"`
	Vertices    string `gorm:"not null" json:"vertices"`
	LineWidth   int    `gorm:"not null;default:2" json:"line_width"`
	OpenPolygon bool   `gorm:"not null;default:false" json:"open_polygon"`

	Shape Shape `gorm:"foreignKey:ShapeID;references:UUID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Polygon) TableName() string { return "polygons" }
