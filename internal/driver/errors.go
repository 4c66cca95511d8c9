package driver

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionError means a side could not be reached or authenticated.
// It is fatal for the whole run.
type ConnectionError struct {
	Side Side
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s (%s): %v", e.Side, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// MetadataError means a table does not exist on one side.
type MetadataError struct {
	Side  Side
	Table string
	Err   error
}

func (e *MetadataError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("table %s not found on %s", e.Table, e.Side)
	}
	return fmt.Sprintf("table %s on %s: %v", e.Table, e.Side, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// QueryError means a specific query failed. Timeouts from the connection
// layer and context cancellation surface as QueryError too.
type QueryError struct {
	Side  Side
	Table string
	Op    string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s %s on %s: %v", e.Op, e.Table, e.Side, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// UnsupportedKeyError means pk-range hashing was requested for a table
// without a usable single-column integer key.
type UnsupportedKeyError struct {
	Table  string
	Reason string
}

func (e *UnsupportedKeyError) Error() string {
	return fmt.Sprintf("table %s: unsupported key for pk-range hashing: %s", e.Table, e.Reason)
}

// ErrorKind classifies err for the report.
func ErrorKind(err error) string {
	var (
		connErr *ConnectionError
		metaErr *MetadataError
		keyErr  *UnsupportedKeyError
		qErr    *QueryError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &metaErr):
		return "metadata"
	case errors.As(err, &keyErr):
		return "unsupported_key"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &qErr):
		return "query"
	default:
		return "internal"
	}
}
