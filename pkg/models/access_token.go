package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccessToken is a persisted WOPI access token.
type AccessToken struct {
	// ID is the unique row identifier (UUID).
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	// CreatedAt is when the token was issued.
	CreatedAt time.Time

	// TokenHash is the SHA-256 hash of the token value. The plaintext value is
	// never stored.
	TokenHash string `gorm:"type:varchar(64);not null;uniqueIndex"`

	// Username is the user the token was issued to.
	Username string `gorm:"type:varchar(255);not null;index"`

	// FileID is the only file the token grants access to.
	FileID string `gorm:"type:varchar(64);not null;index"`

	// Editor is the editor kind that requested the token.
	Editor string `gorm:"type:varchar(32)"`

	// ExpiresAt is the exclusive expiry instant.
	ExpiresAt time.Time `gorm:"not null;index"`
}

// BeforeCreate hook to generate UUID if not set.
func (t *AccessToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TableName specifies the table name for GORM.
func (AccessToken) TableName() string {
	return "wopi_access_tokens"
}

// HashToken creates a SHA-256 hash of a token for secure storage.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Create stores the token. The token parameter is the plaintext value to
// hash.
func (t *AccessToken) Create(db *gorm.DB, token string) error {
	if err := validation.Validate(token, validation.Required); err != nil {
		return err
	}
	t.TokenHash = HashToken(token)

	if err := validation.ValidateStruct(t,
		validation.Field(&t.Username, validation.Required),
		validation.Field(&t.FileID, validation.Required),
		validation.Field(&t.ExpiresAt, validation.Required),
	); err != nil {
		return err
	}

	return db.Create(t).Error
}

// GetByToken retrieves a token by its plaintext value.
func (t *AccessToken) GetByToken(db *gorm.DB, token string) error {
	return db.First(t, "token_hash = ?", HashToken(token)).Error
}

// DeleteExpiredAccessTokens removes every token that expired at or before now
// and returns how many were removed.
func DeleteExpiredAccessTokens(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Where("expires_at <= ?", now).Delete(&AccessToken{})
	return res.RowsAffected, res.Error
}
