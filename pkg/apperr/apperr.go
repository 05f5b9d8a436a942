// Package apperr defines the typed failures shared by the gateways, the
// workflow orchestrator and the HTTP layer.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindNotAFile   Kind = "not_a_file"
	KindUpstream   Kind = "upstream"
	KindTimeout    Kind = "timeout"
	KindParse      Kind = "parse"
	KindBusy       Kind = "busy"
	KindAbandoned  Kind = "abandoned"
	KindInternal   Kind = "internal"
)

// Backend names the external service an upstream failure came from.
type Backend string

const (
	BackendNone       Backend = ""
	BackendHosting    Backend = "hosting"
	BackendGeneration Backend = "generation"
)

// Error is a classified failure carrying a human readable message.
type Error struct {
	Kind    Kind
	Op      string
	Backend Backend
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, apperr.ErrBusy) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// Sentinels usable with errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrNotAFile   = &Error{Kind: KindNotAFile}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrParse      = &Error{Kind: KindParse}
	ErrBusy       = &Error{Kind: KindBusy}
	ErrAbandoned  = &Error{Kind: KindAbandoned}
)

// New builds an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, message string) *Error { return New(KindValidation, op, message) }

func Auth(op, message string) *Error { return New(KindAuth, op, message) }

func NotFound(op, message string) *Error { return New(KindNotFound, op, message) }

func Busy(op string) *Error {
	return New(KindBusy, op, "another request is already in progress for this session")
}

func Abandoned(op string) *Error {
	return New(KindAbandoned, op, "workflow changed while the request was in flight; result discarded")
}

// Upstream wraps a failure of an external service.
func Upstream(backend Backend, op string, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Backend: backend, Err: err}
}

// Timeout wraps an external call that exceeded its bound.
func Timeout(backend Backend, op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Backend: backend, Message: "request to " + backendLabel(backend) + " timed out", Err: err}
}

// FromContext converts a context failure into a Timeout, or returns nil when
// err is not context related.
func FromContext(backend Backend, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(backend, op, err)
	}
	return nil
}

// KindOf reports the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// MessageOf returns the human readable part of err without the operation
// prefix. Unclassified errors are reported generically.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		if errors.Is(err, context.DeadlineExceeded) {
			return "request timed out"
		}
		return "internal error"
	}
	switch {
	case e.Message != "":
		return e.Message
	case e.Kind == KindUpstream:
		return backendLabel(e.Backend) + " request failed"
	case e.Err != nil && e.Kind != KindInternal:
		return e.Err.Error()
	case e.Kind == KindInternal:
		return "internal error"
	default:
		return string(e.Kind)
	}
}

// HTTPStatus maps a kind to the response status used by the API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindNotAFile:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindBusy, KindAbandoned:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func backendLabel(b Backend) string {
	switch b {
	case BackendHosting:
		return "hosting provider"
	case BackendGeneration:
		return "generation backend"
	default:
		return "external service"
	}
}
