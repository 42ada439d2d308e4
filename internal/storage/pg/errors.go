package pg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"bookrental/internal/storage"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"

	constraintBookUPC       = "books_upc_key"
	constraintCategoryName  = "categories_name_lower_key"
	constraintOneOpenRental = "book_rentals_one_open_per_book"
	constraintRentalBook    = "book_rentals_book_id_fkey"
	constraintRentalUser    = "book_rentals_user_id_fkey"
	constraintBookCategory  = "books_category_id_fkey"
)

// refs carries the ids a failed statement referenced, used to build NotFoundError
type refs struct {
	book     int64
	user     int64
	category int64
}

// translateError maps constraint violations onto the storage error taxonomy.
// value is the unique value the statement tried to write. Anything else is
// returned unchanged.
func translateError(err error, value string, r refs) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintBookUPC:
			return &storage.DuplicateError{Field: "upc", Value: value}
		case constraintCategoryName:
			return &storage.DuplicateError{Field: "category", Value: value}
		case constraintOneOpenRental:
			return storage.ErrNotAvailable
		}
	case codeForeignKeyViolation:
		switch pgErr.ConstraintName {
		case constraintRentalBook:
			return storage.NotFound(storage.EntityBook, r.book)
		case constraintRentalUser:
			return storage.NotFound(storage.EntityUser, r.user)
		case constraintBookCategory:
			return storage.NotFound(storage.EntityCategory, r.category)
		}
	}
	return err
}
