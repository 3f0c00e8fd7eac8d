package tokens

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/hashicorp-forge/wopihost/pkg/models"
)

// DBStore keeps tokens in the wopi_access_tokens table. Only a hash of each
// value is stored.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore returns a DBStore on db.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// Put implements Store.
func (s *DBStore) Put(ctx context.Context, t Token) error {
	row := models.AccessToken{
		Username:  t.Username,
		FileID:    t.FileID,
		Editor:    t.Editor,
		ExpiresAt: t.ExpiresAt.UTC(),
	}
	return row.Create(s.db.WithContext(ctx), t.Value)
}

// Get implements Store.
func (s *DBStore) Get(ctx context.Context, value string) (Token, error) {
	var row models.AccessToken
	if err := row.GetByToken(s.db.WithContext(ctx), value); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Token{}, ErrNotFound
		}
		return Token{}, err
	}
	return Token{
		Value:     value,
		Username:  row.Username,
		FileID:    row.FileID,
		Editor:    row.Editor,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// DeleteExpired implements Store.
func (s *DBStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return models.DeleteExpiredAccessTokens(s.db.WithContext(ctx), now.UTC())
}
