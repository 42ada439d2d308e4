package stubs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bookrental/internal/models"
	"bookrental/internal/storage"
)

func seedBook(t *testing.T, db *MockDB, title, upc, category string) models.Book {
	t.Helper()
	var book models.Book
	err := db.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.FindCategoryByName(ctx, category)
		if errors.Is(err, storage.ErrNotFound) {
			c, err = tx.CreateCategory(ctx, category)
		}
		if err != nil {
			return err
		}
		book, err = tx.CreateBook(ctx, c.ID, models.NewBook{
			Title:    title,
			Price:    decimal.RequireFromString("9.99"),
			Rating:   3,
			UPC:      upc,
			URL:      "http://example.com/" + upc,
			Category: category,
		})
		return err
	})
	if err != nil {
		t.Fatalf("Failed to seed book: %v", err)
	}
	return book
}

func TestMockDB_Initialize(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	// Second call must not duplicate the default users
	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatalf("Failed to list users: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("Expected 3 default users, got %d", len(users))
	}
	if users[0].Name != "Alice" {
		t.Errorf("Expected users sorted by name, got %s first", users[0].Name)
	}
}

func TestMockDB_CreateBook(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	book := seedBook(t, db, "Test Book", "U1", "Fiction")
	if book.ID == 0 {
		t.Fatal("Expected non-zero book ID")
	}
	if book.Category != "Fiction" {
		t.Errorf("Expected category 'Fiction', got '%s'", book.Category)
	}
	if !book.Available {
		t.Error("Expected a new book to be available")
	}

	got, err := db.FindBookByUPC(ctx, "U1")
	if err != nil {
		t.Fatalf("Failed to find book by UPC: %v", err)
	}
	if got.ID != book.ID {
		t.Errorf("Expected book %d, got %d", book.ID, got.ID)
	}
}

func TestMockDB_CreateBookDuplicateUPC(t *testing.T) {
	db := NewMockDB()
	seedBook(t, db, "First", "U1", "Fiction")

	err := db.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.FindCategoryByName(ctx, "fiction")
		if err != nil {
			return err
		}
		_, err = tx.CreateBook(ctx, c.ID, models.NewBook{Title: "Second", UPC: "U1"})
		return err
	})

	var dup *storage.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateError, got %v", err)
	}
	if dup.Field != "upc" {
		t.Errorf("Expected duplicate field 'upc', got '%s'", dup.Field)
	}
}

func TestMockDB_CreateCategoryCaseInsensitive(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	err := db.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.CreateCategory(ctx, "Fiction"); err != nil {
			return err
		}
		_, err := tx.CreateCategory(ctx, "FICTION")
		return err
	})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}

	// The failed transaction must leave nothing behind
	categories, err := db.ListCategories(ctx)
	if err != nil {
		t.Fatalf("Failed to list categories: %v", err)
	}
	if len(categories) != 0 {
		t.Errorf("Expected rollback to discard categories, got %d", len(categories))
	}
}

func TestMockDB_ListBooks(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	seedBook(t, db, "Book C", "U3", "Fiction")
	seedBook(t, db, "Book A", "U1", "Poetry")
	seedBook(t, db, "Book B", "U2", "Fiction")

	books, err := db.ListBooks(ctx, models.BookFilter{SortByTitle: true})
	if err != nil {
		t.Fatalf("Failed to list books: %v", err)
	}
	if len(books) != 3 {
		t.Fatalf("Expected 3 books, got %d", len(books))
	}
	expected := []string{"Book A", "Book B", "Book C"}
	for i, title := range expected {
		if books[i].Title != title {
			t.Errorf("Expected book %d to be '%s', got '%s'", i, title, books[i].Title)
		}
	}

	fiction, err := db.ListBooks(ctx, models.BookFilter{Category: "FICTION"})
	if err != nil {
		t.Fatalf("Failed to list books by category: %v", err)
	}
	if len(fiction) != 2 {
		t.Errorf("Expected 2 fiction books, got %d", len(fiction))
	}
}

func TestMockDB_RentalLifecycle(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	book := seedBook(t, db, "Book", "U1", "Fiction")
	user, err := db.FindUserByName(ctx, "Alice")
	if err != nil {
		t.Fatalf("Failed to find user: %v", err)
	}

	now := time.Now().UTC()
	var rental models.BookRental
	err = db.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		rental, err = tx.CreateRental(ctx, models.BookRental{BookID: book.ID, UserID: user.ID, Rented: now})
		return err
	})
	if err != nil {
		t.Fatalf("Failed to create rental: %v", err)
	}

	available, err := db.IsAvailable(ctx, book.ID)
	if err != nil {
		t.Fatalf("Failed to check availability: %v", err)
	}
	if available {
		t.Error("Expected rented book to be unavailable")
	}

	// A second open rental for the same book is refused
	err = db.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.CreateRental(ctx, models.BookRental{BookID: book.ID, UserID: user.ID, Rented: now})
		return err
	})
	if !errors.Is(err, storage.ErrNotAvailable) {
		t.Fatalf("Expected ErrNotAvailable, got %v", err)
	}

	err = db.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.CloseRental(ctx, rental.ID, now.Add(time.Hour))
		return err
	})
	if err != nil {
		t.Fatalf("Failed to close rental: %v", err)
	}

	closed, err := db.GetRental(ctx, rental.ID)
	if err != nil {
		t.Fatalf("Failed to get rental: %v", err)
	}
	if closed.Open() {
		t.Error("Expected rental to be closed")
	}

	open, err := db.ListRentals(ctx, models.RentalFilter{OpenOnly: true})
	if err != nil {
		t.Fatalf("Failed to list rentals: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("Expected no open rentals, got %d", len(open))
	}
}

func TestMockDB_OpenRentalPicksEarliest(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	book := seedBook(t, db, "Book", "U1", "Fiction")

	// Simulate legacy data holding two open rentals for one book
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	db.data.rentals[100] = models.BookRental{ID: 100, BookID: book.ID, UserID: 1, Rented: base.Add(time.Hour)}
	db.data.rentals[101] = models.BookRental{ID: 101, BookID: book.ID, UserID: 2, Rented: base}

	rental, err := db.OpenRental(ctx, book.ID)
	if err != nil {
		t.Fatalf("Failed to get open rental: %v", err)
	}
	if rental.ID != 101 {
		t.Errorf("Expected earliest rental 101, got %d", rental.ID)
	}
}
