package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrJobInProgress       = errors.New("marker job already in progress for content")
	ErrJobTerminal         = errors.New("marker job is terminal")
	ErrInvalidTransition   = errors.New("invalid marker job transition")
	ErrAttemptsExhausted   = errors.New("marker job attempt budget exhausted")
	ErrMarkerNotReady      = errors.New("content marker is not ready")
	ErrRuleKindImmutable   = errors.New("rotation rule kind cannot change")
	ErrCompilationTimeout  = errors.New("marker compilation timed out")
	ErrCompilerUnavailable = errors.New("marker compiler unavailable")
)

// ErrorKind classifies marker pipeline failures for retry decisions and
// operator visibility.
type ErrorKind string

const (
	ErrorKindInvalidInput       ErrorKind = "invalid_input"
	ErrorKindCompilationFailure ErrorKind = "compilation_failure"
	ErrorKindCompilationTimeout ErrorKind = "compilation_timeout"
	ErrorKindArtifactNotFound   ErrorKind = "artifact_not_found"
	ErrorKindValidationFailure  ErrorKind = "validation_failure"
	ErrorKindUploadFailure      ErrorKind = "upload_failure"
)

// Retryable reports whether a failure of this kind may be attempted again.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindCompilationFailure, ErrorKindCompilationTimeout, ErrorKindArtifactNotFound, ErrorKindUploadFailure:
		return true
	default:
		return false
	}
}

// MarkerError is a classified marker pipeline failure.
type MarkerError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func NewMarkerError(kind ErrorKind, message string, err error) *MarkerError {
	return &MarkerError{Kind: kind, Message: message, Err: err}
}

func (e *MarkerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail())
}

// Detail is the error text without the kind prefix.
func (e *MarkerError) Detail() string {
	switch {
	case e.Err != nil && e.Message != "":
		return e.Message + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e *MarkerError) Unwrap() error {
	return e.Err
}

// ErrorKind returns the string classification of the failure.
func (e *MarkerError) ErrorKind() string {
	return string(e.Kind)
}

// KindOf extracts the ErrorKind carried by err. Unclassified errors are
// reported as compilation failures so they stay within the retry budget.
func KindOf(err error) ErrorKind {
	var me *MarkerError
	if errors.As(err, &me) {
		return me.Kind
	}
	return ErrorKindCompilationFailure
}
