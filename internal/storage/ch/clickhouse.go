package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"bookrental/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseDB stores rental activity for reporting. It is an append-only sink;
// the rental ledger itself lives in PostgreSQL.
type ClickHouseDB struct {
	conn clickhouse.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Initialize creates the events table. ClickHouse is an optional analytics
// sink, so its single table is created on start rather than kept with the
// PostgreSQL migrations.
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	err := db.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rental_events (
			occurred_at DateTime64(3, 'UTC'),
			kind LowCardinality(String),
			rental_id Int64,
			book_id Int64,
			book_title String,
			user_id Int64
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, book_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create rental_events table: %w", err)
	}
	return nil
}

// RecordRentalEvent appends a rent or return event
func (db *ClickHouseDB) RecordRentalEvent(ctx context.Context, event models.RentalEvent) error {
	err := db.conn.Exec(ctx, `INSERT INTO rental_events (occurred_at, kind, rental_id, book_id, book_title, user_id) VALUES (?, ?, ?, ?, ?, ?)`,
		event.OccurredAt.UTC(), string(event.Kind), event.RentalID, event.BookID, event.BookTitle, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to record rental event: %w", err)
	}
	return nil
}

// TopRentedBooks returns the N most rented books within [startDate, endDate)
func (db *ClickHouseDB) TopRentedBooks(ctx context.Context, limit int, startDate, endDate time.Time) ([]models.BookStat, error) {
	rows, err := db.conn.Query(ctx, `
		SELECT book_id, argMax(book_title, occurred_at) AS title, count() AS rent_count
		FROM rental_events
		WHERE kind = ? AND occurred_at >= ? AND occurred_at < ?
		GROUP BY book_id
		ORDER BY rent_count DESC, book_id
		LIMIT ?`,
		string(models.RentalEventRented), startDate.UTC(), endDate.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top rented books: %w", err)
	}
	defer rows.Close()

	stats := make([]models.BookStat, 0)
	for rows.Next() {
		var (
			stat  models.BookStat
			count uint64
		)
		if err := rows.Scan(&stat.BookID, &stat.Title, &count); err != nil {
			return nil, fmt.Errorf("failed to scan book stat: %w", err)
		}
		stat.RentCount = int(count)
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// LastEvents returns the last N events, newest first
func (db *ClickHouseDB) LastEvents(ctx context.Context, limit int) ([]models.RentalEvent, error) {
	rows, err := db.conn.Query(ctx, `
		SELECT occurred_at, kind, rental_id, book_id, book_title, user_id
		FROM rental_events
		ORDER BY occurred_at DESC, rental_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get last events: %w", err)
	}
	defer rows.Close()

	var events []models.RentalEvent
	for rows.Next() {
		var (
			event models.RentalEvent
			kind  string
		)
		if err := rows.Scan(&event.OccurredAt, &kind, &event.RentalID, &event.BookID, &event.BookTitle, &event.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Kind = models.RentalEventKind(kind)
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
