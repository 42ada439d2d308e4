// Package importer loads users, books and rentals from CSV files.
//
// Every row is converted, validated and stored on its own. A row that fails for
// any reason is logged and skipped; it never aborts the rest of the batch.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookrental/internal/catalog"
	"bookrental/internal/ledger"
	"bookrental/internal/validation"
)

// TimeLayout is the timestamp format of the rented/returned columns
const TimeLayout = "2006-01-02 15:04"

// File names read by ImportDir, in import order
const (
	UsersFile   = "users.csv"
	BooksFile   = "books.csv"
	RentalsFile = "bookrentals.csv"
)

// Result counts the rows of one entity type
type Result struct {
	Inserted int
	Skipped  int
}

// Report summarizes one import batch
type Report struct {
	BatchID string
	Users   Result
	Books   Result
	Rentals Result
}

// Importer reconciles CSV rows into the catalog and the rental ledger
type Importer struct {
	catalog   *catalog.Service
	ledger    *ledger.Ledger
	validator *validation.Validator
	logger    *zap.Logger
	location  *time.Location
}

// New creates an Importer. Timestamps are interpreted in UTC.
func New(catalog *catalog.Service, ledger *ledger.Ledger, validator *validation.Validator, logger *zap.Logger) *Importer {
	return &Importer{
		catalog:   catalog,
		ledger:    ledger,
		validator: validator,
		logger:    logger,
		location:  time.UTC,
	}
}

// ImportDir imports users, books and rentals from dir. A missing or unreadable
// file is logged and its entity left at zero.
func (im *Importer) ImportDir(ctx context.Context, dir string) (Report, error) {
	report := Report{BatchID: uuid.NewString()}
	logger := im.logger.With(zap.String("batch_id", report.BatchID), zap.String("dir", dir))
	logger.Info("Import started")

	steps := []struct {
		file   string
		result *Result
		run    func(context.Context, io.Reader) (Result, error)
	}{
		{UsersFile, &report.Users, im.ImportUsers},
		{BooksFile, &report.Books, im.ImportBooks},
		{RentalsFile, &report.Rentals, im.ImportRentals},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		path := filepath.Join(dir, step.file)
		f, err := os.Open(path)
		if err != nil {
			logger.Warn("Skipping import file", zap.String("file", path), zap.Error(err))
			continue
		}

		result, err := step.run(ctx, f)
		f.Close()
		*step.result = result
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return report, err
		}
		if err != nil {
			logger.Warn("Import file failed", zap.String("file", path), zap.Error(err))
		}
	}

	logger.Info("Import finished",
		zap.Int("users_inserted", report.Users.Inserted),
		zap.Int("users_skipped", report.Users.Skipped),
		zap.Int("books_inserted", report.Books.Inserted),
		zap.Int("books_skipped", report.Books.Skipped),
		zap.Int("rentals_inserted", report.Rentals.Inserted),
		zap.Int("rentals_skipped", report.Rentals.Skipped),
	)
	return report, nil
}

// ImportUsers reads rows with a name column
func (im *Importer) ImportUsers(ctx context.Context, r io.Reader) (Result, error) {
	return im.each(ctx, r, "users", []string{"name"}, func(ctx context.Context, row map[string]string) error {
		_, err := im.catalog.CreateUser(ctx, strings.TrimSpace(row["name"]))
		return err
	})
}

var bookColumns = []string{
	validation.FieldPrice,
	validation.FieldRating,
	validation.FieldTitle,
	validation.FieldCategory,
	validation.FieldUPC,
	validation.FieldURL,
}

// ImportBooks reads rows with title, price, rating, upc, url, category and an
// optional available column. Rows whose UPC already exists are skipped.
func (im *Importer) ImportBooks(ctx context.Context, r io.Reader) (Result, error) {
	return im.each(ctx, r, "books", bookColumns, func(ctx context.Context, row map[string]string) error {
		book, err := im.validator.BookFromRecord(row)
		if err != nil {
			return err
		}
		_, err = im.catalog.CreateBook(ctx, book)
		return err
	})
}

// ImportRentals reads rows with book_upc, user_name, rented and returned columns.
// Rows referencing an unknown user or book, or with unparsable timestamps, are skipped.
func (im *Importer) ImportRentals(ctx context.Context, r io.Reader) (Result, error) {
	columns := []string{"book_upc", "user_name", "rented", "returned"}
	return im.each(ctx, r, "rentals", columns, func(ctx context.Context, row map[string]string) error {
		upc := strings.TrimSpace(row["book_upc"])
		userName := strings.TrimSpace(row["user_name"])
		if upc == "" || userName == "" {
			return errors.New("book_upc and user_name are required")
		}

		user, err := im.catalog.FindUserByName(ctx, userName)
		if err != nil {
			return err
		}
		book, err := im.catalog.FindBookByUPC(ctx, upc)
		if err != nil {
			return err
		}

		rented, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(row["rented"]), im.location)
		if err != nil {
			return fmt.Errorf("invalid rented timestamp: %w", err)
		}

		var returned *time.Time
		if s := strings.TrimSpace(row["returned"]); s != "" {
			t, err := time.ParseInLocation(TimeLayout, s, im.location)
			if err != nil {
				return fmt.Errorf("invalid returned timestamp: %w", err)
			}
			returned = &t
		}

		_, err = im.ledger.Record(ctx, book.ID, user.ID, rented, returned)
		return err
	})
}

// each runs fn for every data row of a CSV stream. Only an unreadable header, an
// I/O failure or a canceled context end the stream early.
func (im *Importer) each(ctx context.Context, r io.Reader, entity string, required []string, fn func(context.Context, map[string]string) error) (Result, error) {
	var result Result
	logger := im.logger.With(zap.String("entity", entity))

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return result, fmt.Errorf("failed to read %s header: %w", entity, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}
	for _, column := range required {
		if !contains(header, column) {
			return result, fmt.Errorf("%s header is missing column %q", entity, column)
		}
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			result.Skipped++
			logger.Warn("Skipping malformed row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to read %s: %w", entity, err)
		}
		if len(record) != len(header) {
			result.Skipped++
			logger.Warn("Skipping row with wrong column count",
				zap.Int("line", line),
				zap.Int("columns", len(record)),
				zap.Int("expected", len(header)),
			)
			continue
		}

		row := make(map[string]string, len(header))
		for i, column := range header {
			row[column] = record[i]
		}

		if err := fn(ctx, row); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			result.Skipped++
			logger.Warn("Skipping row", zap.Int("line", line), zap.Error(err))
			continue
		}
		result.Inserted++
	}

	return result, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
