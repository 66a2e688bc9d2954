package transaction

import (
	"errors"
	"strings"
)

// Error kinds. Every error returned by a Client matches exactly one of the
// first six with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrMalformedState  = errors.New("malformed transaction state")
	ErrExpired         = errors.New("transaction expired")
	ErrStoreFailure    = errors.New("store failure")
	ErrNotifierFailure = errors.New("notifier failure")

	// ErrNotFound is returned by Store.Get when the key is absent.
	ErrNotFound = errors.New("key not found")
	// ErrNilStore is returned when a Config has no store.
	ErrNilStore = errors.New("transaction store cannot be nil")
	// ErrNilNotifier is returned when a NotifierConfig has no notifier.
	ErrNilNotifier = errors.New("transaction notifier cannot be nil")
	// ErrNotConfigured is returned by NewFromDefault before SetDefaultConfig.
	ErrNotConfigured = errors.New("no default transaction config registered")
)

// ErrorCode identifies the kind of a transaction Error.
type ErrorCode string

const (
	ErrorInvalidArgument ErrorCode = "invalid_argument"
	ErrorInvalidStatus   ErrorCode = "invalid_status"
	ErrorMalformedState  ErrorCode = "malformed_state"
	ErrorExpired         ErrorCode = "expired"
	ErrorStoreFailure    ErrorCode = "store_failure"
	ErrorNotifierFailure ErrorCode = "notifier_failure"
)

var codeSentinels = map[ErrorCode]error{
	ErrorInvalidArgument: ErrInvalidArgument,
	ErrorInvalidStatus:   ErrInvalidStatus,
	ErrorMalformedState:  ErrMalformedState,
	ErrorExpired:         ErrExpired,
	ErrorStoreFailure:    ErrStoreFailure,
	ErrorNotifierFailure: ErrNotifierFailure,
}

// Error is the structured error returned by Client operations.
//
// It unwraps to both the sentinel for its Code and the underlying cause, so
// errors.Is(err, ErrStoreFailure) and errors.Is(err, redis.ErrClosed) can both hold.
type Error struct {
	Code          ErrorCode
	TransactionID string
	Message       string
	Err           error
}

// Error returns the formatted error string.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Code))

	if e.TransactionID != "" {
		b.WriteString(" [")
		b.WriteString(e.TransactionID)
		b.WriteString("]")
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap exposes the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)

	if sentinel, ok := codeSentinels[e.Code]; ok {
		errs = append(errs, sentinel)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

func newError(code ErrorCode, id, message string, cause error) error {
	return &Error{Code: code, TransactionID: id, Message: message, Err: cause}
}
