// Package repository wraps all SQL used throughout the API and worker.
package repository

import "errors"

var (
	// ErrNotFound is returned when a row does not exist or is not visible to
	// the requesting account.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint, e.g. registering an email twice.
	ErrDuplicate = errors.New("already exists")
)
