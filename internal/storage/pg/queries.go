package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"

	"bookrental/internal/models"
	"bookrental/internal/storage"
)

const dialectPostgres = "postgres"

// availableExpr is the single definition of ledger-derived availability
const availableExpr = `NOT EXISTS (SELECT 1 FROM book_rentals r WHERE r.book_id = b.id AND r.returned IS NULL)`

const bookSelect = `
	SELECT b.id, b.title, b.price, b.available, b.rating, b.upc, b.url, b.category_id, c.name,
		` + availableExpr + ` AS rentable
	FROM books b
	JOIN categories c ON c.id = b.category_id`

const rentalColumns = `id, book_id, user_id, rented, returned`

// queries implements storage.Queries over a pool or a transaction
type queries struct {
	db dbtx
}

func scanBook(row pgx.Row) (models.Book, error) {
	var b models.Book
	err := row.Scan(&b.ID, &b.Title, &b.Price, &b.Stock, &b.Rating, &b.UPC, &b.URL, &b.CategoryID, &b.Category, &b.Available)
	return b, err
}

func scanRental(row pgx.Row) (models.BookRental, error) {
	var r models.BookRental
	err := row.Scan(&r.ID, &r.BookID, &r.UserID, &r.Rented, &r.Returned)
	return r, err
}

func (q queries) getBook(ctx context.Context, query string, id int64) (models.Book, error) {
	b, err := scanBook(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Book{}, storage.NotFound(storage.EntityBook, id)
	}
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to get book: %w", err)
	}
	return b, nil
}

// GetBook returns a book by id
func (q queries) GetBook(ctx context.Context, id int64) (models.Book, error) {
	return q.getBook(ctx, bookSelect+` WHERE b.id = $1`, id)
}

// LockBook returns a book by id and locks its row until the transaction ends
func (t *transaction) LockBook(ctx context.Context, id int64) (models.Book, error) {
	return t.getBook(ctx, bookSelect+` WHERE b.id = $1 FOR UPDATE OF b`, id)
}

// FindBookByUPC returns the book with the given UPC
func (q queries) FindBookByUPC(ctx context.Context, upc string) (models.Book, error) {
	b, err := scanBook(q.db.QueryRow(ctx, bookSelect+` WHERE b.upc = $1`, upc))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Book{}, storage.NotFoundBy(storage.EntityBook, upc)
	}
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to find book by upc: %w", err)
	}
	return b, nil
}

// ListBooks returns the books matching filter
func (q queries) ListBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(goqu.T("books").As("b")).
		Join(goqu.T("categories").As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("b.category_id")))).
		Select(
			goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.price"), goqu.I("b.available"),
			goqu.I("b.rating"), goqu.I("b.upc"), goqu.I("b.url"), goqu.I("b.category_id"),
			goqu.I("c.name"), goqu.L(availableExpr).As("rentable"),
		).
		Prepared(true)

	var where []exp.Expression
	if filter.Category != "" {
		where = append(where, goqu.Func("lower", goqu.I("c.name")).Eq(goqu.Func("lower", filter.Category)))
	}
	if filter.AvailableOnly {
		where = append(where, goqu.L(availableExpr))
	}
	if len(where) > 0 {
		selectStmt = selectStmt.Where(where...)
	}

	if filter.SortByTitle {
		selectStmt = selectStmt.Order(goqu.I("b.title").Asc(), goqu.I("b.id").Asc())
	} else {
		selectStmt = selectStmt.Order(goqu.I("b.id").Asc())
	}

	sqlQuery, args, err := selectStmt.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build book query: %w", err)
	}

	rows, err := q.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := make([]models.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// IsAvailable reports whether the book has no open rental
func (q queries) IsAvailable(ctx context.Context, bookID int64) (bool, error) {
	var available bool
	err := q.db.QueryRow(ctx, `SELECT `+availableExpr+` FROM books b WHERE b.id = $1`, bookID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, storage.NotFound(storage.EntityBook, bookID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return available, nil
}

// CreateBook inserts a book in the given category
func (t *transaction) CreateBook(ctx context.Context, categoryID int64, book models.NewBook) (models.Book, error) {
	var id int64
	err := t.db.QueryRow(ctx, `
		INSERT INTO books (title, price, available, rating, upc, url, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		book.Title, book.Price.Round(2), book.Stock, book.Rating, book.UPC, book.URL, categoryID,
	).Scan(&id)
	if err != nil {
		err = translateError(err, book.UPC, refs{category: categoryID})
		if errors.Is(err, storage.ErrDuplicate) || errors.Is(err, storage.ErrNotFound) {
			return models.Book{}, err
		}
		return models.Book{}, fmt.Errorf("failed to create book: %w", err)
	}
	return t.GetBook(ctx, id)
}

// FindCategoryByName returns the category whose name matches case-insensitively
func (q queries) FindCategoryByName(ctx context.Context, name string) (models.Category, error) {
	var c models.Category
	err := q.db.QueryRow(ctx, `SELECT id, name FROM categories WHERE lower(name) = lower($1)`, name).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Category{}, storage.NotFoundBy(storage.EntityCategory, name)
	}
	if err != nil {
		return models.Category{}, fmt.Errorf("failed to find category: %w", err)
	}
	return c, nil
}

// ListCategories returns all categories ordered by name
func (q queries) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]models.Category, 0)
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateCategory inserts a category. A concurrent or existing case-insensitive
// match yields a *storage.DuplicateError without aborting the transaction.
func (t *transaction) CreateCategory(ctx context.Context, name string) (models.Category, error) {
	var c models.Category
	err := t.db.QueryRow(ctx, `
		INSERT INTO categories (name) VALUES ($1)
		ON CONFLICT (lower(name)) DO NOTHING
		RETURNING id, name`, name).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Category{}, &storage.DuplicateError{Field: "category", Value: name}
	}
	if err != nil {
		return models.Category{}, fmt.Errorf("failed to create category: %w", err)
	}
	return c, nil
}

// GetUser returns a user by id
func (q queries) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, `SELECT id, name FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, storage.NotFound(storage.EntityUser, id)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// FindUserByName returns the oldest user with the given name
func (q queries) FindUserByName(ctx context.Context, name string) (models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, `SELECT id, name FROM users WHERE name = $1 ORDER BY id LIMIT 1`, name).Scan(&u.ID, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, storage.NotFoundBy(storage.EntityUser, name)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by name
func (q queries) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateUser inserts a user
func (t *transaction) CreateUser(ctx context.Context, name string) (models.User, error) {
	u := models.User{Name: name}
	if err := t.db.QueryRow(ctx, `INSERT INTO users (name) VALUES ($1) RETURNING id`, name).Scan(&u.ID); err != nil {
		return models.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetRental returns a rental by id
func (q queries) GetRental(ctx context.Context, id int64) (models.BookRental, error) {
	r, err := scanRental(q.db.QueryRow(ctx, `SELECT `+rentalColumns+` FROM book_rentals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BookRental{}, storage.NotFound(storage.EntityRental, id)
	}
	if err != nil {
		return models.BookRental{}, fmt.Errorf("failed to get rental: %w", err)
	}
	return r, nil
}

// OpenRental returns the earliest open rental of a book
func (q queries) OpenRental(ctx context.Context, bookID int64) (models.BookRental, error) {
	r, err := scanRental(q.db.QueryRow(ctx, `
		SELECT `+rentalColumns+` FROM book_rentals
		WHERE book_id = $1 AND returned IS NULL
		ORDER BY rented, id
		LIMIT 1`, bookID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BookRental{}, &storage.NotFoundError{Entity: storage.EntityRental, Key: "open for book"}
	}
	if err != nil {
		return models.BookRental{}, fmt.Errorf("failed to get open rental: %w", err)
	}
	return r, nil
}

// ListRentals returns the rentals matching filter ordered by id
func (q queries) ListRentals(ctx context.Context, filter models.RentalFilter) ([]models.BookRental, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From("book_rentals").
		Select("id", "book_id", "user_id", "rented", "returned").
		Order(goqu.I("id").Asc()).
		Prepared(true)

	if filter.OpenOnly {
		selectStmt = selectStmt.Where(goqu.C("returned").IsNull())
	}
	if filter.BookID != 0 {
		selectStmt = selectStmt.Where(goqu.C("book_id").Eq(filter.BookID))
	}
	if filter.UserID != 0 {
		selectStmt = selectStmt.Where(goqu.C("user_id").Eq(filter.UserID))
	}

	sqlQuery, args, err := selectStmt.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build rental query: %w", err)
	}

	rows, err := q.db.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rentals: %w", err)
	}
	defer rows.Close()

	rentals := make([]models.BookRental, 0)
	for rows.Next() {
		r, err := scanRental(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rental: %w", err)
		}
		rentals = append(rentals, r)
	}
	return rentals, rows.Err()
}

// CreateRental inserts a rental. The partial unique index on open rentals turns a
// second open rental for the same book into storage.ErrNotAvailable.
func (t *transaction) CreateRental(ctx context.Context, rental models.BookRental) (models.BookRental, error) {
	err := t.db.QueryRow(ctx, `
		INSERT INTO book_rentals (book_id, user_id, rented, returned)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		rental.BookID, rental.UserID, rental.Rented, rental.Returned,
	).Scan(&rental.ID)
	if err != nil {
		err = translateError(err, "", refs{book: rental.BookID, user: rental.UserID})
		if errors.Is(err, storage.ErrNotAvailable) || errors.Is(err, storage.ErrNotFound) {
			return models.BookRental{}, err
		}
		return models.BookRental{}, fmt.Errorf("failed to create rental: %w", err)
	}
	return rental, nil
}

// CloseRental marks an open rental as returned
func (t *transaction) CloseRental(ctx context.Context, rentalID int64, returned time.Time) (models.BookRental, error) {
	r, err := scanRental(t.db.QueryRow(ctx, `
		UPDATE book_rentals SET returned = $2
		WHERE id = $1 AND returned IS NULL
		RETURNING `+rentalColumns, rentalID, returned))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := t.GetRental(ctx, rentalID); getErr != nil {
			return models.BookRental{}, getErr
		}
		return models.BookRental{}, storage.ErrNotRented
	}
	if err != nil {
		return models.BookRental{}, fmt.Errorf("failed to close rental: %w", err)
	}
	return r, nil
}
