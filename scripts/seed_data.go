//go:build ignore

// seed_data.go loads the sample records into PostgreSQL.
// Run with: go run scripts/seed_data.go [-reset]
package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/kubo-market/anomaly-sentinel/internal/seed"
)

func main() {
	reset := flag.Bool("reset", false, "truncate records before seeding")
	flag.Parse()

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "postgres://postgres@localhost:5432/sentinel?sslmode=disable"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	if *reset {
		if _, err := db.Exec("TRUNCATE records"); err != nil {
			log.Fatalf("truncate: %v", err)
		}
		log.Println("Truncated records")
	}

	if _, err := db.Exec(seed.GenerateSQL()); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("Seeded %d records", len(seed.Records()))
}
