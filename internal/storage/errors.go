package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
	ErrNotAvailable = errors.New("book is not available")
	ErrNotRented    = errors.New("book is not rented")
)

// Entity names used in NotFoundError
const (
	EntityBook     = "book"
	EntityCategory = "category"
	EntityUser     = "user"
	EntityRental   = "rental"
)

// NotFoundError reports an unknown id or lookup key
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError for a numeric id
func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprintf("%d", id)}
}

// NotFoundBy builds a NotFoundError for a textual lookup key
func NotFoundBy(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprintf("%q", key)}
}

// DuplicateError reports a uniqueness violation on Field
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return "duplicate " + e.Field
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}
