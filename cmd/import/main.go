package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bookrental/internal/app"
)

// Usage: import [dir]
// Reads users.csv, books.csv and bookrentals.csv from dir (default IMPORT_DIR).
func main() {
	dir := ""
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New()
	if err != nil {
		log.Fatal(err)
	}

	report, err := application.Import(ctx, dir)
	closeErr := application.Close()
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}
	if closeErr != nil {
		log.Printf("Error closing application: %v", closeErr)
	}

	fmt.Printf("Batch %s\n", report.BatchID)
	fmt.Printf("  users:   %d inserted, %d skipped\n", report.Users.Inserted, report.Users.Skipped)
	fmt.Printf("  books:   %d inserted, %d skipped\n", report.Books.Inserted, report.Books.Skipped)
	fmt.Printf("  rentals: %d inserted, %d skipped\n", report.Rentals.Inserted, report.Rentals.Skipped)
}
