// migrate applies the embedded SQL migrations to the database selected by STORAGE_DRIVER.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"growth-tracker/backend/internal/config"
	"growth-tracker/backend/internal/db/migrate"
	"growth-tracker/backend/internal/storage"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	url, err := storage.MigrationURL(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err, "(set STORAGE_DRIVER=postgres or sqlite)")
		os.Exit(1)
	}

	if err := migrate.Run(url, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			// Already at target version; success.
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
