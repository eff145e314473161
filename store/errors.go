package store

import (
	"errors"
	"fmt"
)

// Error is a tagged store-layer error; callers switch on Code rather
// than matching error strings.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("store: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Code enumerates the error taxonomy of spec.md §7.
type Code string

const (
	// InvalidMessage: a message arrived without a Message-ID.
	InvalidMessage Code = "InvalidMessage"
	// DuplicateMessage: (list, message_id) already present; not an
	// error condition for ingest callers, just a signal to reuse the
	// existing hash.
	DuplicateMessage Code = "DuplicateMessage"
	// MessageNotFound: delete/lookup targeted a message absent from
	// the list.
	MessageNotFound Code = "MessageNotFound"
	// InvalidVoteValue: a vote value outside {-1, 0, +1}.
	InvalidVoteValue Code = "InvalidVoteValue"
	// TransientDBError: a retryable storage failure.
	TransientDBError Code = "TransientDBError"
	// SchemaUpgradeNeeded: the store was opened against a database
	// whose schema predates the running binary's migrations.
	SchemaUpgradeNeeded Code = "SchemaUpgradeNeeded"
)

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsDuplicateMessage reports whether err is (or wraps) a
// DuplicateMessage error.
func IsDuplicateMessage(err error) bool { return hasCode(err, DuplicateMessage) }

// IsMessageNotFound reports whether err is (or wraps) a
// MessageNotFound error.
func IsMessageNotFound(err error) bool { return hasCode(err, MessageNotFound) }

// IsSchemaUpgradeNeeded reports whether err is (or wraps) a
// SchemaUpgradeNeeded error.
func IsSchemaUpgradeNeeded(err error) bool { return hasCode(err, SchemaUpgradeNeeded) }

func hasCode(err error, code Code) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}
