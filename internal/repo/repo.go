package repo

import (
	"database/sql"
	"errors"
	"fmt"
)

type Repo struct {
	DB *sql.DB
}

// Error kinds surfaced by the stores. Each carries a stable message so callers
// can tell "mission full" apart from "not your mission" from "already joined".
var (
	ErrNotFound               = errors.New("not found")
	ErrCapacityExceeded       = errors.New("mission crew is full")
	ErrAlreadyMember          = errors.New("already a crew member of this mission")
	ErrNotAMember             = errors.New("not a crew member of this mission")
	ErrNotOwner               = errors.New("mission belongs to another chief")
	ErrIllegalTransition      = errors.New("illegal mission status transition")
	ErrConcurrentModification = errors.New("mission was modified concurrently")
	ErrUsernameTaken          = errors.New("username already taken")
	ErrStoreUnavailable       = errors.New("store unavailable")
)

// storeErr wraps raw driver failures so they never leak past the repo boundary.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
