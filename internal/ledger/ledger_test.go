package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookrental/internal/models"
	"bookrental/internal/storage"
	"bookrental/internal/storage/stubs"
	"bookrental/internal/validation"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.RentalEvent
	err    error
}

func (s *recordingSink) RecordRentalEvent(ctx context.Context, event models.RentalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type fixture struct {
	db     *stubs.MockDB
	ledger *Ledger
	sink   *recordingSink
	book   models.Book
	users  []models.User
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	db := stubs.NewMockDB()
	sink := &recordingSink{}
	f := fixture{db: db, ledger: New(db, sink, zap.NewNop()), sink: sink}

	err := db.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.CreateCategory(ctx, "Fiction")
		if err != nil {
			return err
		}
		f.book, err = tx.CreateBook(ctx, c.ID, models.NewBook{
			Title:  "Dune",
			Price:  decimal.NewFromInt(10),
			Rating: 5,
			UPC:    "U1",
			URL:    "http://x",
		})
		if err != nil {
			return err
		}
		for _, name := range []string{"Alice", "Bob", "Carol"} {
			u, err := tx.CreateUser(ctx, name)
			if err != nil {
				return err
			}
			f.users = append(f.users, u)
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func TestLedger_RentReturnScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rental, err := f.ledger.Rent(ctx, f.book.ID, f.users[1].ID)
	require.NoError(t, err)
	assert.Nil(t, rental.Returned)
	assert.Equal(t, f.book.ID, rental.BookID)
	assert.Equal(t, f.users[1].ID, rental.UserID)

	_, err = f.ledger.Rent(ctx, f.book.ID, f.users[2].ID)
	assert.ErrorIs(t, err, storage.ErrNotAvailable)

	returned, err := f.ledger.Return(ctx, f.book.ID)
	require.NoError(t, err)
	assert.Equal(t, rental.ID, returned.ID)
	require.NotNil(t, returned.Returned)
	assert.False(t, returned.Returned.Before(returned.Rented))

	again, err := f.ledger.Rent(ctx, f.book.ID, f.users[2].ID)
	require.NoError(t, err)
	assert.NotEqual(t, rental.ID, again.ID)
}

func TestLedger_AvailabilityFollowsOpenRentals(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	available, err := f.ledger.IsAvailable(ctx, f.book.ID)
	require.NoError(t, err)
	assert.True(t, available)

	_, err = f.ledger.Rent(ctx, f.book.ID, f.users[0].ID)
	require.NoError(t, err)

	available, err = f.ledger.IsAvailable(ctx, f.book.ID)
	require.NoError(t, err)
	assert.False(t, available)

	book, err := f.db.GetBook(ctx, f.book.ID)
	require.NoError(t, err)
	assert.False(t, book.Available)

	open, err := f.ledger.ListOpenRentals(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	_, err = f.ledger.Return(ctx, f.book.ID)
	require.NoError(t, err)

	available, err = f.ledger.IsAvailable(ctx, f.book.ID)
	require.NoError(t, err)
	assert.True(t, available)

	open, err = f.ledger.ListOpenRentals(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestLedger_ReturnNotRented(t *testing.T) {
	f := setup(t)

	_, err := f.ledger.Return(context.Background(), f.book.ID)
	assert.ErrorIs(t, err, storage.ErrNotRented)
}

func TestLedger_UnknownBookOrUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.ledger.Rent(ctx, 9999, f.users[0].ID)
	var nf *storage.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, storage.EntityBook, nf.Entity)

	_, err = f.ledger.Rent(ctx, f.book.ID, 9999)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, storage.EntityUser, nf.Entity)

	_, err = f.ledger.Return(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Nothing was written by the failed attempts
	rentals, err := f.ledger.ListRentals(ctx, models.RentalFilter{})
	require.NoError(t, err)
	assert.Empty(t, rentals)
}

func TestLedger_ConcurrentRent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.ledger.Rent(ctx, f.book.ID, userID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, storage.ErrNotAvailable):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(f.users[i%len(f.users)].ID)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, refused)
}

func TestLedger_PublishesEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rental, err := f.ledger.Rent(ctx, f.book.ID, f.users[0].ID)
	require.NoError(t, err)
	_, err = f.ledger.Return(ctx, f.book.ID)
	require.NoError(t, err)

	require.Len(t, f.sink.events, 2)
	assert.Equal(t, models.RentalEventRented, f.sink.events[0].Kind)
	assert.Equal(t, "Dune", f.sink.events[0].BookTitle)
	assert.Equal(t, rental.ID, f.sink.events[0].RentalID)
	assert.Equal(t, models.RentalEventReturned, f.sink.events[1].Kind)
}

func TestLedger_SinkFailureDoesNotFailRent(t *testing.T) {
	f := setup(t)
	f.sink.err = errors.New("clickhouse down")

	_, err := f.ledger.Rent(context.Background(), f.book.ID, f.users[0].ID)
	require.NoError(t, err)

	available, err := f.ledger.IsAvailable(context.Background(), f.book.ID)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestLedger_Record(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rented := time.Date(2018, 12, 30, 5, 55, 0, 0, time.UTC)
	returned := rented.Add(48 * time.Hour)

	closed, err := f.ledger.Record(ctx, f.book.ID, f.users[0].ID, rented, &returned)
	require.NoError(t, err)
	assert.False(t, closed.Open())

	open, err := f.ledger.Record(ctx, f.book.ID, f.users[1].ID, rented.Add(72*time.Hour), nil)
	require.NoError(t, err)
	assert.True(t, open.Open())

	_, err = f.ledger.Record(ctx, f.book.ID, f.users[2].ID, rented.Add(96*time.Hour), nil)
	assert.ErrorIs(t, err, storage.ErrNotAvailable)

	early := rented.Add(-time.Hour)
	_, err = f.ledger.Record(ctx, f.book.ID, f.users[2].ID, rented, &early)
	var verr *validation.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "returned", verr.Field)

	_, err = f.ledger.Record(ctx, f.book.ID, f.users[2].ID, time.Time{}, nil)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "rented "+validation.ReasonRequired, verr.Error())

	// rented + returned for the closed one, rented for the open one
	assert.Len(t, f.sink.events, 3)
}
