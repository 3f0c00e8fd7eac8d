// Package storage defines the collaborators the WOPI handlers depend on: a
// user directory, a permission check and a byte store for file content.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a user or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNameExists is returned when creating a file whose name is taken.
	ErrNameExists = errors.New("file name already exists")
)

// Mode is the kind of access requested on a file.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// User is a host user.
type User struct {
	ID           string
	Name         string
	FriendlyName string
	Email        string
}

// FileInfo describes the current state of a stored file.
type FileInfo struct {
	ID      string
	Name    string
	OwnerID string
	Size    int64

	// Version changes on every content write.
	Version string

	ModifiedAt time.Time
}

// UserDirectory resolves users by login name.
type UserDirectory interface {
	LookupUser(ctx context.Context, name string) (*User, error)
}

// Authorizer decides whether a user may access a file.
type Authorizer interface {
	CanAccess(ctx context.Context, user *User, fileID string, mode Mode) (bool, error)
}

// CreateOptions controls FileStore.CreateRelative.
type CreateOptions struct {
	// AdjustName lets the store pick a different name when the requested
	// one is taken. Without it a taken name fails with ErrNameExists.
	AdjustName bool
}

// Precondition is run by FileStore.Store after the new content is uploaded
// and right before the file record changes. A non-nil error aborts the write
// and is returned unwrapped.
type Precondition func(ctx context.Context) error

// FileStore stores file content and metadata.
type FileStore interface {
	// Stat returns the current state of fileID.
	Stat(ctx context.Context, fileID string) (*FileInfo, error)

	// Retrieve opens the content of fileID. The caller closes the reader.
	Retrieve(ctx context.Context, fileID string) (io.ReadCloser, *FileInfo, error)

	// Store replaces the content of fileID. The file is unchanged when an
	// error is returned. check may be nil.
	Store(ctx context.Context, fileID string, r io.Reader, check Precondition) (*FileInfo, error)

	// FindByName returns the file named name that belongs to ownerID.
	FindByName(ctx context.Context, ownerID, name string) (*FileInfo, error)

	// AvailableName returns name, or a variant of it, that no file of
	// ownerID uses.
	AvailableName(ctx context.Context, ownerID, name string) (string, error)

	// CreateRelative creates a file next to sourceID, with the same owner and
	// sharing, holding the content of r.
	CreateRelative(ctx context.Context, sourceID, name string, r io.Reader, opts CreateOptions) (*FileInfo, error)
}
