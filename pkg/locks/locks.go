// Package locks implements the WOPI lock state machine. Each file is either
// unlocked or locked with an opaque value chosen by the editor; every
// transition except Lock on an unlocked file and GetLock requires the caller
// to present the value currently held.
package locks

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// MaxValueLength is the longest lock value accepted.
const MaxValueLength = 1024

// ErrEmptyValue is returned when a transition is requested with an empty
// lock value.
var ErrEmptyValue = errors.New("lock value is empty")

// lockAttempts bounds how often Lock retries when the file is unlocked
// between its read and its compare-and-swap.
const lockAttempts = 3

// Store holds the physical lock value of each file. An empty value means the
// file is unlocked.
type Store interface {
	// Get returns the current lock value of fileID.
	Get(ctx context.Context, fileID string) (string, error)

	// CompareAndSwap sets the lock value of fileID to new only if it
	// currently equals old, atomically with respect to other calls for the
	// same fileID. It reports whether the swap happened.
	CompareAndSwap(ctx context.Context, fileID, old, new string) (bool, error)
}

// Result is the outcome of a transition. When Acquired is false the
// transition was refused and Current holds the value that blocked it, which
// may be empty.
type Result struct {
	Acquired bool
	Current  string
}

// Coordinator owns the transition rules on top of a Store.
type Coordinator struct {
	store  Store
	logger hclog.Logger
}

// NewCoordinator returns a Coordinator on store.
func NewCoordinator(store Store, logger hclog.Logger) *Coordinator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Coordinator{
		store:  store,
		logger: logger.Named("locks"),
	}
}

// Lock locks an unlocked file with value. Locking a file already locked with
// the same value succeeds without changing anything.
func (c *Coordinator) Lock(ctx context.Context, fileID, value string) (Result, error) {
	if value == "" {
		return Result{}, ErrEmptyValue
	}

	var current string
	for i := 0; i < lockAttempts; i++ {
		var err error
		current, err = c.store.Get(ctx, fileID)
		if err != nil {
			return Result{}, fmt.Errorf("error reading lock: %w", err)
		}
		switch current {
		case value:
			return Result{Acquired: true, Current: value}, nil
		case "":
		default:
			return Result{Current: current}, nil
		}

		ok, err := c.store.CompareAndSwap(ctx, fileID, "", value)
		if err != nil {
			return Result{}, fmt.Errorf("error acquiring lock: %w", err)
		}
		if ok {
			c.logger.Trace("locked", "file_id", fileID)
			return Result{Acquired: true, Current: value}, nil
		}
	}

	current, err := c.store.Get(ctx, fileID)
	if err != nil {
		return Result{}, fmt.Errorf("error reading lock: %w", err)
	}
	return Result{Acquired: current == value, Current: current}, nil
}

// Relock replaces old with value on a file locked with old.
func (c *Coordinator) Relock(ctx context.Context, fileID, old, value string) (Result, error) {
	if old == "" || value == "" {
		return Result{}, ErrEmptyValue
	}
	return c.swap(ctx, fileID, old, value)
}

// Unlock unlocks a file locked with value.
func (c *Coordinator) Unlock(ctx context.Context, fileID, value string) (Result, error) {
	if value == "" {
		return Result{}, ErrEmptyValue
	}
	return c.swap(ctx, fileID, value, "")
}

// RefreshLock renews the lease of a file locked with value. Locks never
// expire, so this only touches the stored record.
func (c *Coordinator) RefreshLock(ctx context.Context, fileID, value string) (Result, error) {
	if value == "" {
		return Result{}, ErrEmptyValue
	}
	return c.swap(ctx, fileID, value, value)
}

// GetLock returns the current lock value, empty when unlocked.
func (c *Coordinator) GetLock(ctx context.Context, fileID string) (string, error) {
	current, err := c.store.Get(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("error reading lock: %w", err)
	}
	return current, nil
}

func (c *Coordinator) swap(ctx context.Context, fileID, old, value string) (Result, error) {
	ok, err := c.store.CompareAndSwap(ctx, fileID, old, value)
	if err != nil {
		return Result{}, fmt.Errorf("error updating lock: %w", err)
	}
	if ok {
		c.logger.Trace("lock updated", "file_id", fileID, "unlocked", value == "")
		return Result{Acquired: true, Current: value}, nil
	}

	current, err := c.store.Get(ctx, fileID)
	if err != nil {
		return Result{}, fmt.Errorf("error reading lock: %w", err)
	}
	return Result{Current: current}, nil
}
