package postgres

import (
	"errors"
	"fmt"
	"time"
)

// Config holds PostgreSQL connection and pool settings for the document
// store.
type Config struct {
	// DSN is the PostgreSQL connection string, for example
	// "postgres://plauder:secret@db:5432/plauder?sslmode=require".
	DSN string

	// MaxConns caps the pool (default 25). Chunk inserts for one document
	// share a single transaction, so ingestion needs one connection per
	// concurrent document.
	MaxConns int32

	// MinConns idle connections are kept warm (default 2).
	MinConns int32

	// MaxConnLifetime recycles connections (default 30 minutes).
	MaxConnLifetime time.Duration

	// ConnectTimeout bounds the initial ping (default 10 seconds).
	ConnectTimeout time.Duration

	// MigrateOnStart creates the documents and chunks tables at startup.
	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MinConns == 0 {
		c.MinConns = min(2, c.MaxConns)
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.DSN == "" {
		errs = append(errs, errors.New("dsn is required"))
	}
	if c.MaxConns < 0 || c.MinConns < 0 {
		errs = append(errs, fmt.Errorf("pool sizes must not be negative (min %d, max %d)", c.MinConns, c.MaxConns))
	}
	if c.MinConns > c.MaxConns {
		errs = append(errs, fmt.Errorf("min conns %d exceeds max conns %d", c.MinConns, c.MaxConns))
	}
	return errors.Join(errs...)
}
