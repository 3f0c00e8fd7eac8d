package locks

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/hashicorp-forge/wopihost/pkg/models"
)

// MemoryStore keeps lock values in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]string)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fileID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[fileID], nil
}

// CompareAndSwap implements Store.
func (s *MemoryStore) CompareAndSwap(_ context.Context, fileID, old, new string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locks[fileID] != old {
		return false, nil
	}
	if new == "" {
		delete(s.locks, fileID)
	} else {
		s.locks[fileID] = new
	}
	return true, nil
}

// DBStore keeps lock values in the wopi_file_locks table. Each swap is a
// single conditional statement, so the database serializes racing callers.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore returns a DBStore on db.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// Get implements Store.
func (s *DBStore) Get(ctx context.Context, fileID string) (string, error) {
	return models.GetFileLock(s.db.WithContext(ctx), fileID)
}

// CompareAndSwap implements Store.
func (s *DBStore) CompareAndSwap(ctx context.Context, fileID, old, new string) (bool, error) {
	db := s.db.WithContext(ctx)

	switch {
	case old == "" && new == "":
		current, err := models.GetFileLock(db, fileID)
		return current == "", err
	case old == "":
		return models.InsertFileLock(db, fileID, new)
	case new == "":
		return models.DeleteFileLock(db, fileID, old)
	default:
		return models.SwapFileLock(db, fileID, old, new)
	}
}
