package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"docintel/types"
)

// ErrorHandler maps the service error taxonomy onto HTTP responses. Every
// failure leaves as JSON {code, error}; transient backend failures that
// exhausted their retries surface as 502, never as an empty success.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if apiErr, ok := err.(Error); ok {
		return c.Status(apiErr.Code).JSON(apiErr)
	}
	if valErr, ok := err.(ValidationError); ok {
		return c.Status(valErr.Status).JSON(valErr)
	}

	var fiberErr *fiber.Error
	switch {
	case errors.Is(err, types.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(NewError(fiber.StatusNotFound, "not found"))
	case errors.Is(err, types.ErrUnsupportedFormat):
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(NewError(fiber.StatusUnsupportedMediaType, err.Error()))
	case errors.Is(err, types.ErrEmbeddingFailed), errors.Is(err, types.ErrGenerationFailed):
		return c.Status(fiber.StatusBadGateway).JSON(NewError(fiber.StatusBadGateway, err.Error()))
	case errors.As(err, &fiberErr):
		return c.Status(fiberErr.Code).JSON(NewError(fiberErr.Code, fiberErr.Message))
	}

	slog.Default().Error("request failed", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(NewError(fiber.StatusInternalServerError, "internal server error"))
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// Error implements the error interface.
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid id given",
	}
}
