package transaction

import (
	"fmt"
	"strings"
)

// Status is the lifecycle stage of a transaction.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Statuses returns the closed set of statuses in lifecycle order.
func Statuses() []Status {
	return []Status{StatusQueued, StatusProcessing, StatusSuccess, StatusError}
}

// ParseStatus validates and converts a raw status. Surrounding whitespace and
// case are ignored.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))

	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}

	return status, nil
}

// IsValid reports whether the status is a member of the closed set.
func (status Status) IsValid() bool {
	switch status {
	case StatusQueued, StatusProcessing, StatusSuccess, StatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status conventionally ends a transaction.
// Nothing prevents a terminal transaction from moving again.
func (status Status) IsTerminal() bool {
	return status == StatusSuccess || status == StatusError
}

func (status Status) String() string {
	return string(status)
}

// resolveStatus accepts a Status, a string or a fmt.Stringer.
func resolveStatus(v any) (Status, error) {
	switch typed := v.(type) {
	case Status:
		return ParseStatus(string(typed))
	case string:
		return ParseStatus(typed)
	case fmt.Stringer:
		return ParseStatus(typed.String())
	case nil:
		return "", fmt.Errorf("%w: status is required", ErrInvalidStatus)
	default:
		return "", fmt.Errorf("%w: unsupported status type %T", ErrInvalidStatus, v)
	}
}
