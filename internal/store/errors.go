package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaMissing marks a failure caused by an absent table or column, as
// opposed to a failure of a query against a provisioned schema.
var ErrSchemaMissing = errors.New("schema missing")

// Kind classifies a store error for callers that degrade instead of failing.
type Kind string

const (
	KindNone          Kind = "none"
	KindSchemaMissing Kind = "schema_missing"
	KindTransient     Kind = "transient"
)

// KindOf reports the classification of an error returned by a store method.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrSchemaMissing):
		return KindSchemaMissing
	default:
		return KindTransient
	}
}

// wrap annotates a driver error with op. SQLite reports an unprovisioned
// schema only through its message, so that is matched here and nowhere else.
func wrap(op string, err error) error {
	if isSchemaMissing(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrSchemaMissing, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isSchemaMissing(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column")
}
