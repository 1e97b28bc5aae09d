package database

import (
	"database/sql"
	"errors"
	"log"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// OpenDB initializes and returns the primary Read/Write connection pool.
// The DSN comes from the DB_DSN_PRIMARY environment variable.
func OpenDB() (*sql.DB, error) {
	dsn := os.Getenv("DB_DSN_PRIMARY")
	if dsn == "" {
		return nil, errors.New("DB_DSN_PRIMARY environment variable is not set")
	}

	// Delegate the rest of the setup to the generic function
	return OpenDBWithDSN(dsn)
}

// OpenDBWithDSN is a generic function to create and configure a DB connection pool
// using any provided DSN string. This is used for BOTH the primary and read-only pools.
func OpenDBWithDSN(dsn string) (*sql.DB, error) {
	// 1. Open a new connection pool.
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// 2. Configure the connection pool settings.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 3. Ping the database to verify the connection.
	err = db.Ping()
	if err != nil {
		log.Printf("Error connecting to database with DSN: %v", err)
		return nil, err
	}

	log.Println("Database connection pool established successfully")
	return db, nil
}
