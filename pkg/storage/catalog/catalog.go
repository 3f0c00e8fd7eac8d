// Package catalog is the host's own record of users, files and sharing. It
// keeps metadata in the database and content in a blob backend, and serves
// as the storage collaborator of the WOPI handlers.
package catalog

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/zeebo/blake3"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/wopihost/pkg/models"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/storage/blob"
)

// maxNameVariants bounds the search for a free name.
const maxNameVariants = 100

var (
	_ storage.UserDirectory = (*Catalog)(nil)
	_ storage.Authorizer    = (*Catalog)(nil)
	_ storage.FileStore     = (*Catalog)(nil)
)

// Catalog implements the storage collaborators on gorm and a blob backend.
type Catalog struct {
	db     *gorm.DB
	blobs  blob.Backend
	logger hclog.Logger
	now    func() time.Time
}

// New returns a Catalog.
func New(db *gorm.DB, blobs blob.Backend, logger hclog.Logger) *Catalog {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Catalog{
		db:     db,
		blobs:  blobs,
		logger: logger.Named("catalog"),
		now:    time.Now,
	}
}

// LookupUser implements storage.UserDirectory.
func (c *Catalog) LookupUser(ctx context.Context, name string) (*storage.User, error) {
	var u models.User
	if err := u.GetByName(c.db.WithContext(ctx), name); err != nil {
		return nil, notFound(err, "user %q", name)
	}
	return toUser(&u), nil
}

// CanAccess implements storage.Authorizer. Owners may read and write; other
// users need a grant.
func (c *Catalog) CanAccess(ctx context.Context, user *storage.User, fileID string, mode storage.Mode) (bool, error) {
	if user == nil {
		return false, nil
	}
	db := c.db.WithContext(ctx)

	var f models.File
	if err := f.Get(db, fileID); err != nil {
		return false, notFound(err, "file %q", fileID)
	}
	if f.OwnerID.String() == user.ID {
		return true, nil
	}

	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return false, nil
	}
	var g models.FileGrant
	if err := g.GetGrant(db, fileID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if mode == storage.ModeWrite {
		return g.Mode == models.FileAccessWrite, nil
	}
	return true, nil
}

// Stat implements storage.FileStore.
func (c *Catalog) Stat(ctx context.Context, fileID string) (*storage.FileInfo, error) {
	f, err := c.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return toFileInfo(f), nil
}

// Retrieve implements storage.FileStore. A file that was never written has
// empty content.
func (c *Catalog) Retrieve(ctx context.Context, fileID string) (io.ReadCloser, *storage.FileInfo, error) {
	f, err := c.getFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if f.ContentKey == "" {
		return io.NopCloser(bytes.NewReader(nil)), toFileInfo(f), nil
	}

	rc, err := c.blobs.Open(ctx, f.ContentKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening content of file %s: %w", fileID, err)
	}
	return rc, toFileInfo(f), nil
}

// Store implements storage.FileStore. Content goes to a new blob; the record
// moves to it only once the blob is complete.
func (c *Catalog) Store(ctx context.Context, fileID string, r io.Reader, check storage.Precondition) (*storage.FileInfo, error) {
	f, err := c.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	previous := f.ContentKey

	key, hash, size, err := c.writeBlob(ctx, fileID, r)
	if err != nil {
		return nil, err
	}

	if check != nil {
		if err := check(ctx); err != nil {
			c.discardBlob(ctx, key)
			return nil, err
		}
	}

	if err := f.UpdateContent(c.db.WithContext(ctx), key, hash, size, c.now().UTC()); err != nil {
		c.discardBlob(ctx, key)
		return nil, fmt.Errorf("error updating file %s: %w", fileID, err)
	}

	if previous != "" {
		c.discardBlob(ctx, previous)
	}

	c.logger.Debug("stored file content",
		"file_id", fileID,
		"version", f.Version,
		"size", size,
	)
	return toFileInfo(f), nil
}

// FindByName implements storage.FileStore.
func (c *Catalog) FindByName(ctx context.Context, ownerID, name string) (*storage.FileInfo, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: owner %q", storage.ErrNotFound, ownerID)
	}

	var f models.File
	if err := f.GetByOwnerAndName(c.db.WithContext(ctx), owner, name); err != nil {
		return nil, notFound(err, "file %q", name)
	}
	return toFileInfo(&f), nil
}

// AvailableName implements storage.FileStore. Taken names get a " (n)"
// suffix before the extension.
func (c *Catalog) AvailableName(ctx context.Context, ownerID, name string) (string, error) {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 2; i <= maxNameVariants+1; i++ {
		_, err := c.FindByName(ctx, ownerID, candidate)
		if errors.Is(err, storage.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
	}
	return "", fmt.Errorf("%w: no free variant of %q", storage.ErrNameExists, name)
}

// CreateRelative implements storage.FileStore. The new file has the owner of
// sourceID and a copy of its grants.
func (c *Catalog) CreateRelative(ctx context.Context, sourceID, name string, r io.Reader, opts storage.CreateOptions) (*storage.FileInfo, error) {
	src, err := c.getFile(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	ownerID := src.OwnerID.String()

	if opts.AdjustName {
		if name, err = c.AvailableName(ctx, ownerID, name); err != nil {
			return nil, err
		}
	} else if _, err := c.FindByName(ctx, ownerID, name); err == nil {
		return nil, fmt.Errorf("%w: %q", storage.ErrNameExists, name)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	newID := uuid.NewString()
	key, hash, size, err := c.writeBlob(ctx, newID, r)
	if err != nil {
		return nil, err
	}

	f := &models.File{
		ID:          newID,
		Name:        name,
		OwnerID:     src.OwnerID,
		Size:        size,
		Version:     1,
		ContentKey:  key,
		ContentHash: hash,
		ModifiedAt:  c.now().UTC(),
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := f.Create(tx); err != nil {
			return err
		}

		var grants []models.FileGrant
		if err := tx.Where("file_id = ?", sourceID).Find(&grants).Error; err != nil {
			return err
		}
		for _, g := range grants {
			copied := models.FileGrant{FileID: newID, UserID: g.UserID, Mode: g.Mode}
			if err := copied.Create(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.discardBlob(ctx, key)
		// A concurrent create may have taken the name.
		if _, ferr := c.FindByName(ctx, ownerID, name); ferr == nil {
			return nil, fmt.Errorf("%w: %q", storage.ErrNameExists, name)
		}
		return nil, fmt.Errorf("error creating file %q: %w", name, err)
	}

	c.logger.Info("created file",
		"file_id", newID,
		"source_file_id", sourceID,
		"name", name,
		"size", size,
	)

	return toFileInfo(f), nil
}

// CreateUser adds a user.
func (c *Catalog) CreateUser(ctx context.Context, name, friendlyName, email string) (*storage.User, error) {
	u := models.User{
		Name:         name,
		FriendlyName: friendlyName,
		EmailAddress: email,
	}
	if err := u.Create(c.db.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("error creating user %q: %w", name, err)
	}
	return toUser(&u), nil
}

// CreateFile adds a file owned by the user named owner with the content of
// r.
func (c *Catalog) CreateFile(ctx context.Context, owner, name string, r io.Reader) (*storage.FileInfo, error) {
	var u models.User
	if err := u.GetByName(c.db.WithContext(ctx), owner); err != nil {
		return nil, notFound(err, "user %q", owner)
	}

	f := &models.File{Name: name, OwnerID: u.ID}
	if err := f.Create(c.db.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("error creating file %q: %w", name, err)
	}
	return c.Store(ctx, f.ID, r, nil)
}

// Grant gives the user named userName access to fileID.
func (c *Catalog) Grant(ctx context.Context, fileID, userName string, mode storage.Mode) error {
	db := c.db.WithContext(ctx)

	var u models.User
	if err := u.GetByName(db, userName); err != nil {
		return notFound(err, "user %q", userName)
	}

	access := models.FileAccessRead
	if mode == storage.ModeWrite {
		access = models.FileAccessWrite
	}
	g := models.FileGrant{FileID: fileID, UserID: u.ID, Mode: access}
	return g.Create(db)
}

func (c *Catalog) getFile(ctx context.Context, fileID string) (*models.File, error) {
	var f models.File
	if err := f.Get(c.db.WithContext(ctx), fileID); err != nil {
		return nil, notFound(err, "file %q", fileID)
	}
	return &f, nil
}

// writeBlob streams r to a fresh key under fileID and returns the key, the
// hex BLAKE3 digest and the size.
func (c *Catalog) writeBlob(ctx context.Context, fileID string, r io.Reader) (string, string, int64, error) {
	key := path.Join("files", fileID, uuid.NewString())
	hasher := blake3.New()

	n, err := c.blobs.Write(ctx, key, io.TeeReader(r, hasher))
	if err != nil {
		return "", "", 0, fmt.Errorf("error writing content of file %s: %w", fileID, err)
	}
	return key, hex.EncodeToString(hasher.Sum(nil)), n, nil
}

func (c *Catalog) discardBlob(ctx context.Context, key string) {
	if err := c.blobs.Delete(ctx, key); err != nil {
		c.logger.Warn("error deleting unused blob", "key", key, "error", err)
	}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

func toUser(u *models.User) *storage.User {
	return &storage.User{
		ID:           u.ID.String(),
		Name:         u.Name,
		FriendlyName: u.FriendlyName,
		Email:        u.EmailAddress,
	}
}

func toFileInfo(f *models.File) *storage.FileInfo {
	return &storage.FileInfo{
		ID:         f.ID,
		Name:       f.Name,
		OwnerID:    f.OwnerID.String(),
		Size:       f.Size,
		Version:    strconv.FormatInt(f.Version, 10),
		ModifiedAt: f.ModifiedAt,
	}
}
