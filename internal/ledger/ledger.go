// Package ledger records rentals and returns and derives book availability from
// open rentals.
//
// A book is AVAILABLE while it has no open rental and RENTED otherwise. Rent and
// Return lock the book row, re-read its state and write in one transaction, so two
// concurrent rents of the same book cannot both succeed.
package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"bookrental/internal/models"
	"bookrental/internal/storage"
	"bookrental/internal/validation"
)

// ActivitySink receives rental events after they are committed
type ActivitySink interface {
	RecordRentalEvent(ctx context.Context, event models.RentalEvent) error
}

// NopSink drops all events
type NopSink struct{}

func (NopSink) RecordRentalEvent(context.Context, models.RentalEvent) error { return nil }

// Ledger implements the rental state machine
type Ledger struct {
	store  storage.Storage
	sink   ActivitySink
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Ledger. A nil sink drops events.
func New(store storage.Storage, sink ActivitySink, logger *zap.Logger) *Ledger {
	if sink == nil {
		sink = NopSink{}
	}
	return &Ledger{
		store:  store,
		sink:   sink,
		logger: logger,
		now: func() time.Time {
			// PostgreSQL keeps microseconds
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Rent opens a rental of bookID for userID. It fails with a *storage.NotFoundError
// for an unknown book or user and with storage.ErrNotAvailable when the book is out.
func (l *Ledger) Rent(ctx context.Context, bookID, userID int64) (models.BookRental, error) {
	var (
		book   models.Book
		rental models.BookRental
	)
	err := l.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		book, err = tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}

		available, err := tx.IsAvailable(ctx, bookID)
		if err != nil {
			return err
		}
		if !available {
			return storage.ErrNotAvailable
		}

		rental, err = tx.CreateRental(ctx, models.BookRental{
			BookID: bookID,
			UserID: userID,
			Rented: l.now(),
		})
		return err
	})
	if err != nil {
		return models.BookRental{}, err
	}

	l.logger.Info("Book rented",
		zap.Int64("rental_id", rental.ID),
		zap.Int64("book_id", bookID),
		zap.Int64("user_id", userID),
	)
	l.publish(ctx, models.RentalEventRented, rental, book.Title, rental.Rented)
	return rental, nil
}

// Return closes the open rental of bookID. When legacy data holds several open
// rentals the earliest one is closed. It fails with storage.ErrNotRented when the
// book is not out.
func (l *Ledger) Return(ctx context.Context, bookID int64) (models.BookRental, error) {
	var (
		book   models.Book
		rental models.BookRental
	)
	err := l.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		book, err = tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}

		open, err := tx.OpenRental(ctx, bookID)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotRented
		}
		if err != nil {
			return err
		}

		returned := l.now()
		if returned.Before(open.Rented) {
			returned = open.Rented
		}
		rental, err = tx.CloseRental(ctx, open.ID, returned)
		return err
	})
	if err != nil {
		return models.BookRental{}, err
	}

	l.logger.Info("Book returned",
		zap.Int64("rental_id", rental.ID),
		zap.Int64("book_id", bookID),
		zap.Int64("user_id", rental.UserID),
	)
	l.publish(ctx, models.RentalEventReturned, rental, book.Title, *rental.Returned)
	return rental, nil
}

// Record stores a historical rental with explicit timestamps. An open rental
// (returned == nil) is refused with storage.ErrNotAvailable when the book is out.
func (l *Ledger) Record(ctx context.Context, bookID, userID int64, rented time.Time, returned *time.Time) (models.BookRental, error) {
	if rented.IsZero() {
		return models.BookRental{}, &validation.ValidationError{Field: "rented", Reason: validation.ReasonRequired}
	}
	if returned != nil && returned.Before(rented) {
		return models.BookRental{}, &validation.ValidationError{Field: "returned", Reason: "must not be before rented"}
	}

	var (
		book   models.Book
		rental models.BookRental
	)
	err := l.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		book, err = tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}

		if returned == nil {
			available, err := tx.IsAvailable(ctx, bookID)
			if err != nil {
				return err
			}
			if !available {
				return storage.ErrNotAvailable
			}
		}

		rental, err = tx.CreateRental(ctx, models.BookRental{
			BookID:   bookID,
			UserID:   userID,
			Rented:   rented,
			Returned: returned,
		})
		return err
	})
	if err != nil {
		return models.BookRental{}, err
	}

	l.publish(ctx, models.RentalEventRented, rental, book.Title, rental.Rented)
	if rental.Returned != nil {
		l.publish(ctx, models.RentalEventReturned, rental, book.Title, *rental.Returned)
	}
	return rental, nil
}

// IsAvailable reports whether a book can be rented right now
func (l *Ledger) IsAvailable(ctx context.Context, bookID int64) (bool, error) {
	return l.store.IsAvailable(ctx, bookID)
}

// ListOpenRentals returns all rentals that have not been returned
func (l *Ledger) ListOpenRentals(ctx context.Context) ([]models.BookRental, error) {
	return l.store.ListRentals(ctx, models.RentalFilter{OpenOnly: true})
}

// ListRentals returns the rentals matching filter
func (l *Ledger) ListRentals(ctx context.Context, filter models.RentalFilter) ([]models.BookRental, error) {
	return l.store.ListRentals(ctx, filter)
}

// publish forwards a committed event to the sink. Failures are logged only: the
// rental is already stored.
func (l *Ledger) publish(ctx context.Context, kind models.RentalEventKind, rental models.BookRental, title string, at time.Time) {
	event := models.RentalEvent{
		Kind:       kind,
		RentalID:   rental.ID,
		BookID:     rental.BookID,
		BookTitle:  title,
		UserID:     rental.UserID,
		OccurredAt: at,
	}
	if err := l.sink.RecordRentalEvent(ctx, event); err != nil {
		l.logger.Warn("Failed to record rental event",
			zap.Error(err),
			zap.String("kind", string(kind)),
			zap.Int64("rental_id", rental.ID),
		)
	}
}
