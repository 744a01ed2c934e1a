package profile

import "errors"

var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrNotManager       = errors.New("profile is not a manager")
	ErrEmailExists      = errors.New("email already registered")
	ErrVersionConflict  = errors.New("profile was modified concurrently")
	ErrOperatorNotOwned = errors.New("operator does not belong to this manager")
)
