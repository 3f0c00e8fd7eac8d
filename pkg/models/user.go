package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a host user who can open files in an editor.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Name is the login name; access tokens refer to users by it.
	Name string `gorm:"type:varchar(255);not null;uniqueIndex"`

	// FriendlyName is shown by the editor.
	FriendlyName string `gorm:"type:varchar(255)"`

	EmailAddress string `gorm:"type:varchar(255)"`
}

// BeforeCreate hook to generate UUID if not set.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Create inserts the user.
func (u *User) Create(db *gorm.DB) error {
	if err := validation.ValidateStruct(u,
		validation.Field(&u.Name, validation.Required, validation.Length(1, 255)),
	); err != nil {
		return err
	}
	return db.Create(u).Error
}

// GetByName retrieves a user by login name.
func (u *User) GetByName(db *gorm.DB, name string) error {
	if err := validation.Validate(name, validation.Required); err != nil {
		return err
	}
	return db.Where("name = ?", name).First(u).Error
}
