// Package validation turns loosely typed book input (JSON request bodies, CSV
// records) into a models.NewBook command.
//
// Fields are checked in a fixed order and the first violation is reported:
// available, price, rating, title, category, upc, url.
package validation

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"bookrental/internal/models"
)

// Book input field names, in check order
const (
	FieldAvailable = "available"
	FieldPrice     = "price"
	FieldRating    = "rating"
	FieldTitle     = "title"
	FieldCategory  = "category"
	FieldUPC       = "upc"
	FieldURL       = "url"
)

// FieldOrder lists the book fields in the order they are validated
var FieldOrder = []string{FieldAvailable, FieldPrice, FieldRating, FieldTitle, FieldCategory, FieldUPC, FieldURL}

// ReasonRequired is the reason reported for a missing field
const ReasonRequired = "is required"

type rule struct {
	tag    string
	reason string
}

var bookRules = map[string]rule{
	FieldAvailable: {tag: "gte=0,lte=2147483647", reason: "must be a non-negative integer"},
	FieldPrice:     {tag: "gt=0,lt=100000000", reason: "must be a positive number"},
	FieldRating:    {tag: "gte=1,lte=5", reason: "must be an integer between 1 and 5"},
	FieldTitle:     {tag: "required", reason: "must be a non-empty string"},
	FieldCategory:  {tag: "required", reason: "must be a non-empty string"},
	FieldUPC:       {tag: "required", reason: "must be a non-empty string"},
	FieldURL:       {tag: "required", reason: "must be a non-empty string"},
}

// ValidationError names the first field that failed validation
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

func invalid(field string) error {
	return &ValidationError{Field: field, Reason: bookRules[field].reason}
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: ReasonRequired}
}

// Validator checks book input
type Validator struct {
	v *validator.Validate
}

// New creates a Validator
func New() *Validator {
	return &Validator{v: validator.New()}
}

func (v *Validator) check(field string, value any) error {
	if err := v.v.Var(value, bookRules[field].tag); err != nil {
		return invalid(field)
	}
	return nil
}

// Validate checks the ranges of an already typed command
func (v *Validator) Validate(book models.NewBook) error {
	checks := []struct {
		field string
		value any
	}{
		{FieldAvailable, book.Stock},
		{FieldPrice, book.Price.Round(2).InexactFloat64()},
		{FieldRating, book.Rating},
		{FieldTitle, book.Title},
		{FieldCategory, book.Category},
		{FieldUPC, book.UPC},
		{FieldURL, book.URL},
	}
	for _, c := range checks {
		if err := v.check(c.field, c.value); err != nil {
			return err
		}
	}
	return nil
}

// source exposes raw field values with per-type conversion
type source interface {
	present(field string) bool
	integer(field string) (int, bool)
	number(field string) (decimal.Decimal, bool)
	text(field string) (string, bool)
}

// parse converts and checks each field before moving to the next one, so a type
// error on a later field never hides a range error on an earlier one
func (v *Validator) parse(src source) (models.NewBook, error) {
	var book models.NewBook

	// available is optional and defaults to 0
	if src.present(FieldAvailable) {
		stock, ok := src.integer(FieldAvailable)
		if !ok {
			return models.NewBook{}, invalid(FieldAvailable)
		}
		if err := v.check(FieldAvailable, stock); err != nil {
			return models.NewBook{}, err
		}
		book.Stock = stock
	}

	if !src.present(FieldPrice) {
		return models.NewBook{}, missing(FieldPrice)
	}
	price, ok := src.number(FieldPrice)
	if !ok {
		return models.NewBook{}, invalid(FieldPrice)
	}
	price = price.Round(2)
	if err := v.check(FieldPrice, price.InexactFloat64()); err != nil {
		return models.NewBook{}, err
	}
	book.Price = price

	if !src.present(FieldRating) {
		return models.NewBook{}, missing(FieldRating)
	}
	rating, ok := src.integer(FieldRating)
	if !ok {
		return models.NewBook{}, invalid(FieldRating)
	}
	if err := v.check(FieldRating, rating); err != nil {
		return models.NewBook{}, err
	}
	book.Rating = rating

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{FieldTitle, &book.Title},
		{FieldCategory, &book.Category},
		{FieldUPC, &book.UPC},
		{FieldURL, &book.URL},
	} {
		if !src.present(f.name) {
			return models.NewBook{}, missing(f.name)
		}
		s, ok := src.text(f.name)
		if !ok {
			return models.NewBook{}, invalid(f.name)
		}
		if err := v.check(f.name, s); err != nil {
			return models.NewBook{}, err
		}
		*f.dst = s
	}

	return book, nil
}
