// Package errs defines the coordinator's error taxonomy.
package errs

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code sent to clients.
type Code string

const (
	CodeSeatConflict     Code = "seat_conflict"
	CodeNotAuthorized    Code = "not_authorized"
	CodeAlreadyAssigned  Code = "already_assigned"
	CodeAlreadyHasSeat   Code = "already_has_seat"
	CodeDmAbsent         Code = "dm_absent"
	CodeAlreadyConnected Code = "already_connected"
	CodeNotFound         Code = "not_found"
	CodeAlreadyExists    Code = "already_exists"
	CodeNotReady         Code = "not_ready"
	CodeCampaignActive   Code = "campaign_active"
	CodeInvalidArgument  Code = "invalid_argument"
	CodeInvalidMessage   Code = "invalid_message"
	CodeInternal         Code = "internal"
)

// Error is a domain error with a code and optional metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error carrying identifiers for logs and clients.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Internal hides an unexpected failure behind the internal code.
func Internal(op string, cause error) *Error {
	return Wrap(CodeInternal, op, cause)
}

// CodeOf extracts the code from err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

var userMessages = map[Code]string{
	CodeSeatConflict:     "someone else just took that seat",
	CodeNotAuthorized:    "you are not allowed to do that",
	CodeAlreadyAssigned:  "that seat already has a character",
	CodeAlreadyHasSeat:   "you already hold a seat; switch seats instead",
	CodeDmAbsent:         "waiting for DM",
	CodeAlreadyConnected: "the DM is already connected from another window",
	CodeNotFound:         "room or seat not found",
	CodeAlreadyExists:    "that room already exists",
	CodeNotReady:         "the table is not ready yet",
	CodeCampaignActive:   "the campaign has already started",
	CodeInvalidArgument:  "invalid request",
	CodeInvalidMessage:   "unrecognised message",
	CodeInternal:         "something went wrong, please try again",
}

// UserMessage returns text suitable for showing to a player.
func UserMessage(err error) string {
	return userMessages[CodeOf(err)]
}
