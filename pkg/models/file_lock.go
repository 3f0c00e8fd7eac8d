package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileLock is the WOPI lock currently held on a file. A file without a row
// is unlocked.
type FileLock struct {
	FileID    string `gorm:"type:varchar(64);primaryKey"`
	LockValue string `gorm:"type:varchar(1024);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the table name for GORM.
func (FileLock) TableName() string {
	return "wopi_file_locks"
}

// GetFileLock returns the lock value for fileID, or "" when unlocked.
func GetFileLock(db *gorm.DB, fileID string) (string, error) {
	var locks []FileLock
	if err := db.Where("file_id = ?", fileID).Limit(1).Find(&locks).Error; err != nil {
		return "", err
	}
	if len(locks) == 0 {
		return "", nil
	}
	return locks[0].LockValue, nil
}

// InsertFileLock creates the lock row unless one already exists. It reports
// whether the row was created.
func InsertFileLock(db *gorm.DB, fileID, value string) (bool, error) {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&FileLock{
		FileID:    fileID,
		LockValue: value,
	})
	return res.RowsAffected == 1, res.Error
}

// SwapFileLock replaces the lock value only if it currently equals old. It
// reports whether a row was updated.
func SwapFileLock(db *gorm.DB, fileID, old, value string) (bool, error) {
	res := db.Model(&FileLock{}).
		Where("file_id = ? AND lock_value = ?", fileID, old).
		Updates(map[string]any{
			"lock_value": value,
			"updated_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// DeleteFileLock removes the lock only if it currently equals old. It reports
// whether a row was deleted.
func DeleteFileLock(db *gorm.DB, fileID, old string) (bool, error) {
	res := db.Where("file_id = ? AND lock_value = ?", fileID, old).Delete(&FileLock{})
	return res.RowsAffected == 1, res.Error
}
