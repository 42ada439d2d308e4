package httpapi

import (
	"time"

	"bookrental/internal/models"
)

// bookDTO keeps "available" as the stored counter; "rentable" is the
// ledger-derived state.
type bookDTO struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Available int     `json:"available"`
	Rating    int     `json:"rating"`
	UPC       string  `json:"upc"`
	URL       string  `json:"url"`
	Category  string  `json:"category"`
	Rentable  bool    `json:"rentable"`
}

type rentalDTO struct {
	ID       int64      `json:"id"`
	UserID   int64      `json:"user_id"`
	BookID   int64      `json:"book_id"`
	Rented   time.Time  `json:"rented"`
	Returned *time.Time `json:"returned"`
}

type userDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type categoryDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type bookStatDTO struct {
	BookID    int64  `json:"book_id"`
	Title     string `json:"title"`
	RentCount int    `json:"rent_count"`
}

type eventDTO struct {
	Kind       string    `json:"kind"`
	RentalID   int64     `json:"rental_id"`
	BookID     int64     `json:"book_id"`
	BookTitle  string    `json:"book_title"`
	UserID     int64     `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type rentRequest struct {
	UserID *int64 `json:"user_id"`
}

func toBookDTO(b models.Book) bookDTO {
	return bookDTO{
		ID:        b.ID,
		Title:     b.Title,
		Price:     b.Price.InexactFloat64(),
		Available: b.Stock,
		Rating:    b.Rating,
		UPC:       b.UPC,
		URL:       b.URL,
		Category:  b.Category,
		Rentable:  b.Available,
	}
}

func toBookDTOs(books []models.Book) []bookDTO {
	out := make([]bookDTO, 0, len(books))
	for _, b := range books {
		out = append(out, toBookDTO(b))
	}
	return out
}

func toRentalDTO(r models.BookRental) rentalDTO {
	return rentalDTO{
		ID:       r.ID,
		UserID:   r.UserID,
		BookID:   r.BookID,
		Rented:   r.Rented,
		Returned: r.Returned,
	}
}

func toRentalDTOs(rentals []models.BookRental) []rentalDTO {
	out := make([]rentalDTO, 0, len(rentals))
	for _, r := range rentals {
		out = append(out, toRentalDTO(r))
	}
	return out
}

func toUserDTOs(users []models.User) []userDTO {
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, userDTO{ID: u.ID, Name: u.Name})
	}
	return out
}

func toCategoryDTOs(categories []models.Category) []categoryDTO {
	out := make([]categoryDTO, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryDTO{ID: c.ID, Name: c.Name})
	}
	return out
}
