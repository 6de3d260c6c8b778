// Package resterr defines the error taxonomy shared by the query and
// document layers. Every error that can surface to a client carries a
// stable code and an HTTP-like status so the transport layer can map it
// without inspecting message text.
package resterr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeMalformedFilter       Code = "malformed_filter"
	CodeUnknownField          Code = "unknown_field"
	CodeUnknownOperator       Code = "unknown_operator"
	CodeUnknownFunction       Code = "unknown_function"
	CodeUnknownRelation       Code = "unknown_relation"
	CodeTypeMismatch          Code = "type_mismatch"
	CodeAmbiguousRelationKind Code = "ambiguous_relation_kind"
	CodeTypeConflict          Code = "type_conflict"
	CodeClientIDNotAllowed    Code = "client_id_not_allowed"
	CodeNotFound              Code = "not_found"
	CodeMultipleMatches       Code = "multiple_matches"
	CodeStoreError            Code = "store_error"
)

// Error is a client-visible failure with a stable status mapping.
type Error struct {
	Code   Code
	Status int
	Detail string
	// Source names the offending input element, e.g. a field or
	// operator name. May be empty.
	Source string
	cause  error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Detail, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

func MalformedFilter(detail string) *Error {
	return &Error{Code: CodeMalformedFilter, Status: http.StatusBadRequest, Detail: detail}
}

func MalformedQuery(detail string) *Error {
	return &Error{Code: CodeMalformedFilter, Status: http.StatusBadRequest, Detail: detail}
}

func UnknownField(name string) *Error {
	return &Error{Code: CodeUnknownField, Status: http.StatusBadRequest,
		Detail: fmt.Sprintf("no such field %q", name), Source: name}
}

func UnknownOperator(name string) *Error {
	return &Error{Code: CodeUnknownOperator, Status: http.StatusBadRequest,
		Detail: fmt.Sprintf("no such operator %q", name), Source: name}
}

func UnknownFunction(name string) *Error {
	return &Error{Code: CodeUnknownFunction, Status: http.StatusBadRequest,
		Detail: fmt.Sprintf("no such function %q", name), Source: name}
}

func UnknownRelation(name string) *Error {
	return &Error{Code: CodeUnknownRelation, Status: http.StatusBadRequest,
		Detail: fmt.Sprintf("no such relationship %q", name), Source: name}
}

func TypeMismatch(field, detail string) *Error {
	return &Error{Code: CodeTypeMismatch, Status: http.StatusBadRequest,
		Detail: detail, Source: field}
}

func AmbiguousRelationKind(relation, detail string) *Error {
	return &Error{Code: CodeAmbiguousRelationKind, Status: http.StatusBadRequest,
		Detail: detail, Source: relation}
}

func TypeConflict(got, want string) *Error {
	return &Error{Code: CodeTypeConflict, Status: http.StatusConflict,
		Detail: fmt.Sprintf("document type %q does not match endpoint type %q", got, want), Source: got}
}

func ClientIDNotAllowed(typ string) *Error {
	return &Error{Code: CodeClientIDNotAllowed, Status: http.StatusForbidden,
		Detail: fmt.Sprintf("client-generated ids are not allowed for type %q", typ)}
}

func NotFound(detail string) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Detail: detail}
}

func MultipleMatches(detail string) *Error {
	return &Error{Code: CodeMultipleMatches, Status: http.StatusBadRequest, Detail: detail}
}

// Store wraps a failure surfaced by the data-access layer. The cause is
// preserved for errors.Is/As but never serialized to clients.
func Store(err error) *Error {
	return &Error{Code: CodeStoreError, Status: http.StatusInternalServerError,
		Detail: "data access failure", cause: err}
}

// ValidationErrors collects several field-level failures into one error
// so a write request can report every invalid field at once.
type ValidationErrors []*Error

func (v ValidationErrors) Error() string {
	msg := "validation failed:"
	for _, e := range v {
		msg += "\n- " + e.Error()
	}
	return msg
}

// Status returns the status shared by the collected errors, or 400 when
// they disagree.
func (v ValidationErrors) Status() int {
	if len(v) == 0 {
		return http.StatusBadRequest
	}
	s := v[0].Status
	for _, e := range v[1:] {
		if e.Status != s {
			return http.StatusBadRequest
		}
	}
	return s
}

// From extracts the taxonomy error from err, wrapping unknown failures
// as a store error.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Store(err)
}
