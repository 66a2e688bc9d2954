package http

import (
	"errors"
	"net/http"

	"github.com/LerianStudio/lib-transact/transact/transaction"
	"github.com/gofiber/fiber/v2"
)

// Error titles.
const (
	TitleNotFound       = "not_found"
	TitleMalformedState = "malformed_state"
	TitleInvalidRequest = "invalid_request"
	TitleInternal       = "internal_error"
	TitleRequestFailed  = "request_failed"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	// HTTP status code
	Code int `json:"code"`
	// Error type identifier
	Title string `json:"title"`
	// Human-readable error message
	Message string `json:"message"`
}

// Error allows ErrorResponse to satisfy the error interface.
func (e ErrorResponse) Error() string {
	return e.Message
}

// Respond writes payload as JSON with the given status.
func Respond(c *fiber.Ctx, status int, payload any) error {
	return c.Status(status).JSON(payload)
}

// RespondError writes an ErrorResponse.
func RespondError(c *fiber.Ctx, status int, title, message string) error {
	return Respond(c, status, ErrorResponse{
		Code:    status,
		Title:   title,
		Message: message,
	})
}

// RenderError maps err onto an ErrorResponse. Transaction errors get their
// own status codes; unknown errors become a generic 500 so internals do not
// leak.
func RenderError(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	var resp ErrorResponse
	if errors.As(err, &resp) {
		return renderErrorResponse(c, resp)
	}

	var presp *ErrorResponse
	if errors.As(err, &presp) && presp != nil {
		return renderErrorResponse(c, *presp)
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return RespondError(c, fe.Code, TitleRequestFailed, fe.Message)
	}

	switch {
	case errors.Is(err, transaction.ErrNotFound), errors.Is(err, transaction.ErrExpired):
		return RespondError(c, fiber.StatusNotFound, TitleNotFound, "transaction not found")
	case errors.Is(err, transaction.ErrMalformedState):
		return RespondError(c, fiber.StatusUnprocessableEntity, TitleMalformedState, "stored transaction is malformed")
	case errors.Is(err, transaction.ErrInvalidArgument):
		return RespondError(c, fiber.StatusBadRequest, TitleInvalidRequest, "invalid request")
	}

	return RespondError(c, fiber.StatusInternalServerError, TitleInternal, "internal server error")
}

func renderErrorResponse(c *fiber.Ctx, resp ErrorResponse) error {
	status := fiber.StatusInternalServerError
	if resp.Code >= http.StatusContinue && resp.Code <= 599 {
		status = resp.Code
	}

	title := resp.Title
	if title == "" {
		title = TitleRequestFailed
	}

	message := resp.Message
	if message == "" {
		message = http.StatusText(status)
	}

	return RespondError(c, status, title, message)
}
