package models

import "gorm.io/gorm"

// AllModels returns all models for migration.
// Order follows foreign key dependencies; gorm reorders where needed.
func AllModels() []interface{} {
	return []interface{}{
		&StoreMetadata{},
		&User{},
		&Room{},
		&Location{},
		&PlayerRoom{},
		&LocationUserOption{},
		&Floor{},
		&Layer{},
		&Group{},
		&Shape{},
		&ShapeOwner{},
		&Rect{},
		&Circle{},
		&Polygon{},
		&Marker{},
	}
}

// AutoMigrate creates every table of the current save format.
// It is only used for brand new save files; existing files are upgraded by
// the versioned steps in package migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
