package db

import "errors"

var (
	ErrClosed   = errors.New("db: database is closed")
	ErrNotFound = errors.New("db: key not found")
)
