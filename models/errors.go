package models

import (
	"errors"
	"fmt"
	"strings"
)

// TransientFetchError marks a retryable network or anti-bot condition.
type TransientFetchError struct {
	Marketplace string
	Op          string
	Err         error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: %s: transient fetch failure: %v", e.Marketplace, e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// ParseError means an adapter could not interpret a page or payload.
// Not retryable; the item is skipped.
type ParseError struct {
	Marketplace string
	Detail      string
	Err         error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: parse: %s: %v", e.Marketplace, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: parse: %s", e.Marketplace, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError means the normalizer rejected a malformed record.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s: %s", e.Field, e.Detail)
}

// NotFoundError means a query referenced an unknown product id.
type NotFoundError struct {
	ProductID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %q not found", e.ProductID)
}

// InvalidComparisonError means a comparison was requested with fewer than
// two products or with ids that could not be resolved.
type InvalidComparisonError struct {
	Reason     string
	ProductIDs []string
}

func (e *InvalidComparisonError) Error() string {
	if len(e.ProductIDs) == 0 {
		return "invalid comparison: " + e.Reason
	}
	return fmt.Sprintf("invalid comparison: %s: %s", e.Reason, strings.Join(e.ProductIDs, ", "))
}

// IsTransient reports whether err is (or wraps) a TransientFetchError.
func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
