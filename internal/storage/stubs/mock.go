package stubs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bookrental/internal/models"
	"bookrental/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing and
// local development. Transactions are serialized and work on a copy of the data,
// which replaces the live data only on commit.
type MockDB struct {
	mu   sync.RWMutex
	data *dataset
}

type dataset struct {
	categories map[int64]models.Category
	books      map[int64]models.Book
	users      map[int64]models.User
	rentals    map[int64]models.BookRental
	lastID     int64
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{data: newDataset()}
}

func newDataset() *dataset {
	return &dataset{
		categories: make(map[int64]models.Category),
		books:      make(map[int64]models.Book),
		users:      make(map[int64]models.User),
		rentals:    make(map[int64]models.BookRental),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for id, v := range d.categories {
		c.categories[id] = v
	}
	for id, v := range d.books {
		c.books[id] = v
	}
	for id, v := range d.users {
		c.users[id] = v
	}
	for id, v := range d.rentals {
		c.rentals[id] = v
	}
	c.lastID = d.lastID
	return c
}

func (d *dataset) nextID() int64 {
	d.lastID++
	return d.lastID
}

// Initialize adds default users for local development when the store is empty
func (m *MockDB) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.data.users) > 0 {
		return nil
	}
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		id := m.data.nextID()
		m.data.users[id] = models.User{ID: id, Name: name}
	}
	return nil
}

// InTx runs fn against a private copy of the data and publishes it when fn succeeds
func (m *MockDB) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(ctx, &view{d: work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *MockDB) read() *view {
	return &view{d: m.data}
}

func (m *MockDB) GetBook(ctx context.Context, id int64) (models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetBook(ctx, id)
}

func (m *MockDB) FindBookByUPC(ctx context.Context, upc string) (models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindBookByUPC(ctx, upc)
}

func (m *MockDB) ListBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListBooks(ctx, filter)
}

func (m *MockDB) IsAvailable(ctx context.Context, bookID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().IsAvailable(ctx, bookID)
}

func (m *MockDB) FindCategoryByName(ctx context.Context, name string) (models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindCategoryByName(ctx, name)
}

func (m *MockDB) ListCategories(ctx context.Context) ([]models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListCategories(ctx)
}

func (m *MockDB) GetUser(ctx context.Context, id int64) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetUser(ctx, id)
}

func (m *MockDB) FindUserByName(ctx context.Context, name string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindUserByName(ctx, name)
}

func (m *MockDB) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListUsers(ctx)
}

func (m *MockDB) GetRental(ctx context.Context, id int64) (models.BookRental, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetRental(ctx, id)
}

func (m *MockDB) OpenRental(ctx context.Context, bookID int64) (models.BookRental, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().OpenRental(ctx, bookID)
}

func (m *MockDB) ListRentals(ctx context.Context, filter models.RentalFilter) ([]models.BookRental, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListRentals(ctx, filter)
}

// Close is a no-op for the in-memory store
func (m *MockDB) Close() error {
	return nil
}

// view implements storage.Tx over a dataset. The caller holds the MockDB lock.
type view struct {
	d *dataset
}

func (v *view) hydrate(b models.Book) models.Book {
	b.Category = v.d.categories[b.CategoryID].Name
	b.Available = !v.hasOpenRental(b.ID)
	return b
}

func (v *view) hasOpenRental(bookID int64) bool {
	for _, r := range v.d.rentals {
		if r.BookID == bookID && r.Open() {
			return true
		}
	}
	return false
}

func (v *view) GetBook(ctx context.Context, id int64) (models.Book, error) {
	b, ok := v.d.books[id]
	if !ok {
		return models.Book{}, storage.NotFound(storage.EntityBook, id)
	}
	return v.hydrate(b), nil
}

func (v *view) LockBook(ctx context.Context, id int64) (models.Book, error) {
	return v.GetBook(ctx, id)
}

func (v *view) FindBookByUPC(ctx context.Context, upc string) (models.Book, error) {
	for _, b := range v.d.books {
		if b.UPC == upc {
			return v.hydrate(b), nil
		}
	}
	return models.Book{}, storage.NotFoundBy(storage.EntityBook, upc)
}

func (v *view) ListBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, error) {
	books := make([]models.Book, 0, len(v.d.books))
	for _, b := range v.d.books {
		b = v.hydrate(b)
		if filter.Category != "" && !strings.EqualFold(b.Category, filter.Category) {
			continue
		}
		if filter.AvailableOnly && !b.Available {
			continue
		}
		books = append(books, b)
	}

	sort.Slice(books, func(i, j int) bool {
		if filter.SortByTitle && books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})

	return books, nil
}

func (v *view) IsAvailable(ctx context.Context, bookID int64) (bool, error) {
	if _, ok := v.d.books[bookID]; !ok {
		return false, storage.NotFound(storage.EntityBook, bookID)
	}
	return !v.hasOpenRental(bookID), nil
}

func (v *view) FindCategoryByName(ctx context.Context, name string) (models.Category, error) {
	var found *models.Category
	for _, c := range v.d.categories {
		if strings.ToLower(c.Name) == strings.ToLower(name) {
			if found == nil || c.ID < found.ID {
				c := c
				found = &c
			}
		}
	}
	if found == nil {
		return models.Category{}, storage.NotFoundBy(storage.EntityCategory, name)
	}
	return *found, nil
}

func (v *view) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories := make([]models.Category, 0, len(v.d.categories))
	for _, c := range v.d.categories {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		if categories[i].Name != categories[j].Name {
			return categories[i].Name < categories[j].Name
		}
		return categories[i].ID < categories[j].ID
	})
	return categories, nil
}

func (v *view) CreateCategory(ctx context.Context, name string) (models.Category, error) {
	if _, err := v.FindCategoryByName(ctx, name); err == nil {
		return models.Category{}, &storage.DuplicateError{Field: "category", Value: name}
	}
	c := models.Category{ID: v.d.nextID(), Name: name}
	v.d.categories[c.ID] = c
	return c, nil
}

func (v *view) CreateBook(ctx context.Context, categoryID int64, book models.NewBook) (models.Book, error) {
	if _, ok := v.d.categories[categoryID]; !ok {
		return models.Book{}, storage.NotFound(storage.EntityCategory, categoryID)
	}
	if _, err := v.FindBookByUPC(ctx, book.UPC); err == nil {
		return models.Book{}, &storage.DuplicateError{Field: "upc", Value: book.UPC}
	}

	b := models.Book{
		ID:         v.d.nextID(),
		Title:      book.Title,
		Price:      book.Price.Round(2),
		Stock:      book.Stock,
		Rating:     book.Rating,
		UPC:        book.UPC,
		URL:        book.URL,
		CategoryID: categoryID,
	}
	v.d.books[b.ID] = b
	return v.hydrate(b), nil
}

func (v *view) GetUser(ctx context.Context, id int64) (models.User, error) {
	u, ok := v.d.users[id]
	if !ok {
		return models.User{}, storage.NotFound(storage.EntityUser, id)
	}
	return u, nil
}

func (v *view) FindUserByName(ctx context.Context, name string) (models.User, error) {
	var found *models.User
	for _, u := range v.d.users {
		if u.Name == name && (found == nil || u.ID < found.ID) {
			u := u
			found = &u
		}
	}
	if found == nil {
		return models.User{}, storage.NotFoundBy(storage.EntityUser, name)
	}
	return *found, nil
}

func (v *view) ListUsers(ctx context.Context) ([]models.User, error) {
	users := make([]models.User, 0, len(v.d.users))
	for _, u := range v.d.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (v *view) CreateUser(ctx context.Context, name string) (models.User, error) {
	u := models.User{ID: v.d.nextID(), Name: name}
	v.d.users[u.ID] = u
	return u, nil
}

func (v *view) GetRental(ctx context.Context, id int64) (models.BookRental, error) {
	r, ok := v.d.rentals[id]
	if !ok {
		return models.BookRental{}, storage.NotFound(storage.EntityRental, id)
	}
	return r, nil
}

func (v *view) OpenRental(ctx context.Context, bookID int64) (models.BookRental, error) {
	var found *models.BookRental
	for _, r := range v.d.rentals {
		if r.BookID != bookID || !r.Open() {
			continue
		}
		if found == nil || r.Rented.Before(found.Rented) || (r.Rented.Equal(found.Rented) && r.ID < found.ID) {
			r := r
			found = &r
		}
	}
	if found == nil {
		return models.BookRental{}, &storage.NotFoundError{Entity: storage.EntityRental, Key: "open for book"}
	}
	return *found, nil
}

func (v *view) ListRentals(ctx context.Context, filter models.RentalFilter) ([]models.BookRental, error) {
	rentals := make([]models.BookRental, 0)
	for _, r := range v.d.rentals {
		if filter.OpenOnly && !r.Open() {
			continue
		}
		if filter.BookID != 0 && r.BookID != filter.BookID {
			continue
		}
		if filter.UserID != 0 && r.UserID != filter.UserID {
			continue
		}
		rentals = append(rentals, r)
	}
	sort.Slice(rentals, func(i, j int) bool {
		return rentals[i].ID < rentals[j].ID
	})
	return rentals, nil
}

func (v *view) CreateRental(ctx context.Context, rental models.BookRental) (models.BookRental, error) {
	if _, ok := v.d.books[rental.BookID]; !ok {
		return models.BookRental{}, storage.NotFound(storage.EntityBook, rental.BookID)
	}
	if _, ok := v.d.users[rental.UserID]; !ok {
		return models.BookRental{}, storage.NotFound(storage.EntityUser, rental.UserID)
	}
	if rental.Open() && v.hasOpenRental(rental.BookID) {
		return models.BookRental{}, storage.ErrNotAvailable
	}

	rental.ID = v.d.nextID()
	v.d.rentals[rental.ID] = rental
	return rental, nil
}

func (v *view) CloseRental(ctx context.Context, rentalID int64, returned time.Time) (models.BookRental, error) {
	r, ok := v.d.rentals[rentalID]
	if !ok {
		return models.BookRental{}, storage.NotFound(storage.EntityRental, rentalID)
	}
	if !r.Open() {
		return models.BookRental{}, storage.ErrNotRented
	}
	r.Returned = &returned
	v.d.rentals[rentalID] = r
	return r, nil
}
