package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Book represents a single rentable catalog entry
type Book struct {
	ID         int64
	Title      string
	Price      decimal.Decimal
	Stock      int // legacy "available" counter, not used for rent decisions
	Rating     int
	UPC        string
	URL        string
	CategoryID int64
	Category   string

	// Available is derived from the rental ledger: true when the book has no open rental
	Available bool
}

// NewBook is a validated book creation command
type NewBook struct {
	Title    string
	Price    decimal.Decimal
	Stock    int
	Rating   int
	UPC      string
	URL      string
	Category string
}

// Category groups books; names are unique case-insensitively
type Category struct {
	ID   int64
	Name string
}

// User represents a library member
type User struct {
	ID   int64
	Name string
}

// BookRental is one rent/return cycle of a book. Returned is nil while the book is out.
type BookRental struct {
	ID       int64
	BookID   int64
	UserID   int64
	Rented   time.Time
	Returned *time.Time
}

// Open reports whether the rental has not been returned yet
func (r BookRental) Open() bool {
	return r.Returned == nil
}

// BookFilter narrows a book listing
type BookFilter struct {
	Category      string // case-insensitive category name, empty means all
	AvailableOnly bool
	SortByTitle   bool
}

// RentalFilter narrows a rental listing
type RentalFilter struct {
	OpenOnly bool
	BookID   int64
	UserID   int64
}

// RentalEventKind tells whether a rental event opened or closed a rental
type RentalEventKind string

const (
	RentalEventRented   RentalEventKind = "rented"
	RentalEventReturned RentalEventKind = "returned"
)

// RentalEvent is a rental lifecycle fact published to the analytics sink
type RentalEvent struct {
	Kind       RentalEventKind
	RentalID   int64
	BookID     int64
	BookTitle  string
	UserID     int64
	OccurredAt time.Time
}

// BookStat represents book rental statistics
type BookStat struct {
	BookID    int64
	Title     string
	RentCount int
}
