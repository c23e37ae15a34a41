// Package qerr defines the error taxonomy for the query pipeline.
// Every error carries a machine-readable kind plus the exact violated
// constraint so HTTP handlers can map it to a status code without string
// matching.
package qerr

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or unschematized input. It is
// client-fixable and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NewValidation builds a ValidationError for a specific input field.
func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SecurityError reports an allow-list, sensitivity, structural-limit,
// complexity-ceiling, or missing-identity violation. Always forbidden-class,
// never retried internally.
type SecurityError struct {
	Rule    string
	Message string
}

func (e *SecurityError) Error() string {
	return e.Message
}

// Security rule identifiers. RuleComplexity maps to a rate-limit (429-class)
// response; everything else is forbidden (403-class).
const (
	RuleSource     = "source_allowlist"
	RuleExpand     = "expand_allowlist"
	RuleField      = "field_allowlist"
	RuleOperator   = "operator_allowlist"
	RuleSensitive  = "sensitive_field"
	RuleDepth      = "max_depth"
	RuleConditions = "max_conditions"
	RuleSort       = "sort_allowlist"
	RuleAggregate  = "aggregate_allowlist"
	RuleLimit      = "max_limit"
	RuleComplexity = "complexity_ceiling"
	RuleIdentity   = "identity_required"
)

// NewSecurity builds a SecurityError for the named rule.
func NewSecurity(rule, format string, args ...any) *SecurityError {
	return &SecurityError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// StoreError reports a data-store I/O failure. There is no fallback data
// source, so it propagates as a server-side failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStore wraps a data-store failure with the operation that produced it.
func NewStore(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSecurity reports whether err is (or wraps) a SecurityError, returning it.
func IsSecurity(err error) (*SecurityError, bool) {
	var se *SecurityError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
