// Package catalog manages books, categories and the user directory.
package catalog

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"bookrental/internal/models"
	"bookrental/internal/storage"
	"bookrental/internal/validation"
)

// Service implements the book catalog and category resolution
type Service struct {
	store     storage.Storage
	validator *validation.Validator
	logger    *zap.Logger
}

// NewService creates a catalog service
func NewService(store storage.Storage, validator *validation.Validator, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		validator: validator,
		logger:    logger,
	}
}

// ResolveCategory returns the category whose name matches case-insensitively,
// creating it with the given casing when none exists
func (s *Service) ResolveCategory(ctx context.Context, name string) (models.Category, error) {
	if name == "" {
		return models.Category{}, &validation.ValidationError{Field: validation.FieldCategory, Reason: "must be a non-empty string"}
	}

	var category models.Category
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) (err error) {
		category, err = resolveCategory(ctx, tx, name)
		return err
	})
	return category, err
}

func resolveCategory(ctx context.Context, tx storage.Tx, name string) (models.Category, error) {
	category, err := tx.FindCategoryByName(ctx, name)
	if err == nil {
		return category, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Category{}, err
	}

	category, err = tx.CreateCategory(ctx, name)
	if errors.Is(err, storage.ErrDuplicate) {
		// Created concurrently since the lookup
		return tx.FindCategoryByName(ctx, name)
	}
	return category, err
}

// CreateBook validates the command, rejects a taken UPC, resolves the category and
// stores the book, all in one transaction
func (s *Service) CreateBook(ctx context.Context, book models.NewBook) (models.Book, error) {
	if err := s.validator.Validate(book); err != nil {
		return models.Book{}, err
	}

	var created models.Book
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.FindBookByUPC(ctx, book.UPC)
		if err == nil {
			return &storage.DuplicateError{Field: "upc", Value: book.UPC}
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		category, err := resolveCategory(ctx, tx, book.Category)
		if err != nil {
			return err
		}

		created, err = tx.CreateBook(ctx, category.ID, book)
		return err
	})
	if err != nil {
		return models.Book{}, err
	}

	s.logger.Info("Book created",
		zap.Int64("book_id", created.ID),
		zap.String("upc", created.UPC),
		zap.String("category", created.Category),
	)
	return created, nil
}

// GetBook returns a book by id
func (s *Service) GetBook(ctx context.Context, id int64) (models.Book, error) {
	return s.store.GetBook(ctx, id)
}

// FindBookByUPC returns the book with the given UPC
func (s *Service) FindBookByUPC(ctx context.Context, upc string) (models.Book, error) {
	return s.store.FindBookByUPC(ctx, upc)
}

// ListBooks returns the books matching filter
func (s *Service) ListBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, error) {
	return s.store.ListBooks(ctx, filter)
}

// ListAvailable returns the books without an open rental, ordered by title
func (s *Service) ListAvailable(ctx context.Context) ([]models.Book, error) {
	return s.store.ListBooks(ctx, models.BookFilter{AvailableOnly: true, SortByTitle: true})
}

// BooksInCategory returns the books of a category, ordered by title.
// An unknown category is reported as not found.
func (s *Service) BooksInCategory(ctx context.Context, name string) (models.Category, []models.Book, error) {
	category, err := s.store.FindCategoryByName(ctx, name)
	if err != nil {
		return models.Category{}, nil, err
	}
	books, err := s.store.ListBooks(ctx, models.BookFilter{Category: category.Name, SortByTitle: true})
	if err != nil {
		return models.Category{}, nil, err
	}
	return category, books, nil
}

// ListCategories returns all categories ordered by name
func (s *Service) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

// CreateUser registers a user. Names are not unique.
func (s *Service) CreateUser(ctx context.Context, name string) (models.User, error) {
	if name == "" {
		return models.User{}, &validation.ValidationError{Field: "name", Reason: "must be a non-empty string"}
	}

	var user models.User
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) (err error) {
		user, err = tx.CreateUser(ctx, name)
		return err
	})
	return user, err
}

// GetUser returns a user by id
func (s *Service) GetUser(ctx context.Context, id int64) (models.User, error) {
	return s.store.GetUser(ctx, id)
}

// FindUserByName returns the oldest user registered under name
func (s *Service) FindUserByName(ctx context.Context, name string) (models.User, error) {
	return s.store.FindUserByName(ctx, name)
}

// ListUsers returns all users ordered by name
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.store.ListUsers(ctx)
}
