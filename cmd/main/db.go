package main

import (
	"database/sql"
	"fmt"
)

// configureDB checks that the database is reachable and limits the pool to a
// single connection, so writers never contend for SQLite's file lock.
func configureDB(db *sql.DB) (*sql.DB, error) {
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	return db, nil
}
