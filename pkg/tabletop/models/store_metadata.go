package models

// StoreMetadata is the singleton row describing the save file itself
type StoreMetadata struct {
	ID          uint   `gorm:"primarykey"`
	SaveVersion int    `gorm:"not null"`
	SecretToken []byte `gorm:"not null"`
}

func (StoreMetadata) TableName() string { return "store_metadata" }
