package models

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// File is the host's record of a stored file. Content lives in a blob
// backend under ContentKey.
type File struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Name is the file name including extension, unique per owner.
	Name string `gorm:"type:varchar(255);not null;uniqueIndex:idx_files_owner_name"`

	OwnerID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_files_owner_name"`
	Owner   *User     `gorm:"foreignKey:OwnerID"`

	// Size of the current content in bytes.
	Size int64 `gorm:"not null;default:0"`

	// Version increases by one on every content write.
	Version int64 `gorm:"not null;default:0"`

	// ContentKey is the blob key of the current content; empty before the
	// first write.
	ContentKey string `gorm:"type:varchar(512)"`

	// ContentHash is the hex BLAKE3 digest of the current content.
	ContentHash string `gorm:"type:varchar(64)"`

	// ModifiedAt is when the content last changed.
	ModifiedAt time.Time
}

// FileAccessMode is the access a grant confers.
type FileAccessMode string

const (
	FileAccessRead  FileAccessMode = "read"
	FileAccessWrite FileAccessMode = "write"
)

// FileGrant gives a user access to a file they don't own.
type FileGrant struct {
	ID     uint           `gorm:"primaryKey"`
	FileID string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_file_grants_file_user"`
	UserID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_file_grants_file_user"`
	Mode   FileAccessMode `gorm:"type:varchar(16);not null"`
}

// BeforeCreate hook to generate an ID if not set.
func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Create inserts the file record.
func (f *File) Create(db *gorm.DB) error {
	if err := validation.ValidateStruct(f,
		validation.Field(&f.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&f.OwnerID, validation.By(requiredUUID)),
	); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return db.Create(f).Error
}

// Get retrieves a file by ID, with its owner.
func (f *File) Get(db *gorm.DB, id string) error {
	if err := validation.Validate(id, validation.Required); err != nil {
		return err
	}
	return db.Preload("Owner").First(f, "id = ?", id).Error
}

// GetByOwnerAndName retrieves a file by owner and name.
func (f *File) GetByOwnerAndName(db *gorm.DB, ownerID uuid.UUID, name string) error {
	return db.Preload("Owner").
		Where("owner_id = ? AND name = ?", ownerID, name).
		First(f).Error
}

// UpdateContent records a new content version. The update only applies if
// the stored version still equals f.Version, so concurrent writers cannot
// interleave; on success f is advanced to the new version.
func (f *File) UpdateContent(db *gorm.DB, key, hash string, size int64, modifiedAt time.Time) error {
	res := db.Model(&File{}).
		Where("id = ? AND version = ?", f.ID, f.Version).
		Updates(map[string]any{
			"content_key":  key,
			"content_hash": hash,
			"size":         size,
			"version":      f.Version + 1,
			"modified_at":  modifiedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("file %s changed concurrently", f.ID)
	}

	f.ContentKey = key
	f.ContentHash = hash
	f.Size = size
	f.Version++
	f.ModifiedAt = modifiedAt
	return nil
}

// GetGrant returns the grant of userID on fileID.
func (g *FileGrant) GetGrant(db *gorm.DB, fileID string, userID uuid.UUID) error {
	return db.Where("file_id = ? AND user_id = ?", fileID, userID).First(g).Error
}

// Create inserts the grant.
func (g *FileGrant) Create(db *gorm.DB) error {
	if err := validation.ValidateStruct(g,
		validation.Field(&g.FileID, validation.Required),
		validation.Field(&g.Mode, validation.Required,
			validation.In(FileAccessRead, FileAccessWrite)),
	); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return db.Create(g).Error
}

func requiredUUID(value any) error {
	id, _ := value.(uuid.UUID)
	if id == uuid.Nil {
		return fmt.Errorf("cannot be blank")
	}
	return nil
}
