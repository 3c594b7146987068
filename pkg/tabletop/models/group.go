package models

import "gorm.io/datatypes"

// Group clusters shapes under a shared badge.
// A group has no collection of its shapes: membership is the set of shapes
// whose GroupID points here, and it is always derived by query.
type Group struct {
	ID            string                      `gorm:"column:uuid;primaryKey" json:"uuid"`
	CharacterSet  datatypes.JSONSlice[string] `gorm:"not null" json:"character_set"`
	CreationOrder string                      `gorm:"not null" json:"creation_order"`
}

func (Group) TableName() string { return "groups" }
