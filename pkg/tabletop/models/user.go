package models

// User represents a player account
type User struct {
	ID           uint    `gorm:"primarykey" json:"id"`
	Name         string  `gorm:"uniqueIndex;not null" json:"name"`
	PasswordHash string  `gorm:"not null" json:"-"`
	Email        *string `json:"email,omitempty"`
	InvertAlt    bool    `gorm:"not null;default:false" json:"invert_alt"`
}

func (User) TableName() string { return "users" }
