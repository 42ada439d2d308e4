package storage

import (
	"context"
	"time"

	"bookrental/internal/models"
)

// Queries defines the read operations shared by Storage and Tx
type Queries interface {
	// Book reads. Every returned book carries the ledger-derived Available flag.
	GetBook(ctx context.Context, id int64) (models.Book, error)
	FindBookByUPC(ctx context.Context, upc string) (models.Book, error)
	ListBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, error)
	IsAvailable(ctx context.Context, bookID int64) (bool, error)

	// Category reads. FindCategoryByName matches case-insensitively.
	FindCategoryByName(ctx context.Context, name string) (models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)

	// User reads. FindUserByName returns the lowest id among users with that name.
	GetUser(ctx context.Context, id int64) (models.User, error)
	FindUserByName(ctx context.Context, name string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// Rental reads.
	// OpenRental returns the open rental of a book; when several are open it returns
	// the one with the earliest Rented time (lowest id on ties).
	GetRental(ctx context.Context, id int64) (models.BookRental, error)
	OpenRental(ctx context.Context, bookID int64) (models.BookRental, error)
	ListRentals(ctx context.Context, filter models.RentalFilter) ([]models.BookRental, error)
}

// Tx is a unit of work. All reads observe the writes made earlier in the same Tx.
type Tx interface {
	Queries

	// LockBook reads a book and holds it against concurrent rent/return until the Tx ends
	LockBook(ctx context.Context, id int64) (models.Book, error)

	// CreateCategory returns a *DuplicateError when a case-insensitive match exists
	CreateCategory(ctx context.Context, name string) (models.Category, error)

	// CreateBook returns a *DuplicateError when the UPC is taken
	CreateBook(ctx context.Context, categoryID int64, book models.NewBook) (models.Book, error)

	CreateUser(ctx context.Context, name string) (models.User, error)

	// CreateRental returns ErrNotAvailable when an open rental already exists for
	// the book and the new rental is open itself
	CreateRental(ctx context.Context, rental models.BookRental) (models.BookRental, error)

	// CloseRental sets Returned on an open rental, ErrNotRented when it is already closed
	CloseRental(ctx context.Context, rentalID int64, returned time.Time) (models.BookRental, error)
}

// Storage defines the interface for data storage operations
type Storage interface {
	Queries

	// InTx runs fn in a transaction. The transaction commits when fn returns nil
	// and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
