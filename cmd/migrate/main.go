package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	migrationsPath := flag.String("migrations", "./migrations", "path to migration files")
	dbPath := flag.String("db", "./data/alertd.db", "path to the sqlite database")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		log.Fatal("usage: migrate [-migrations dir] [-db path] <up|down>")
	}

	m, err := migrate.New(
		"file://"+*migrationsPath,
		fmt.Sprintf("sqlite://%s", *dbPath),
	)
	if err != nil {
		log.Fatalf("failed to create migrate instance: %v", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("migrate up failed: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("migrate down failed: %v", err)
		}
		log.Println("migrations rolled back")
	default:
		log.Fatalf("unknown command %q (want up or down)", command)
	}
}
