package serverutils

import (
	"errors"

	"ai-docqa-be/internal/repository/contract"
	"ai-docqa-be/pkg/docqa"
	"ai-docqa-be/pkg/poller"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware turns errors returned by handlers into a BaseResponse with a matching status.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code, message := StatusFor(err)
		return ctx.Status(code).JSON(ErrorResponse(code, message))
	}
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) (int, string) {
	var fiberErr *fiber.Error
	var validationErr *ValidationError
	var remoteErr *docqa.RemoteCallError

	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code, fiberErr.Message
	case errors.As(err, &validationErr):
		return fiber.StatusBadRequest, validationErr.Error()
	case errors.Is(err, ErrUnauthorized):
		return fiber.StatusUnauthorized, err.Error()
	case errors.Is(err, docqa.ErrUnsupportedFileType):
		return fiber.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, docqa.ErrEmptyDocument), errors.Is(err, docqa.ErrEmptyQuestion):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, docqa.ErrBusy):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, docqa.ErrNotReady):
		return fiber.StatusPreconditionFailed, err.Error()
	case errors.Is(err, contract.ErrSessionNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, poller.ErrTimeout):
		return fiber.StatusGatewayTimeout, "The assistant took too long to respond"
	case errors.As(err, &remoteErr), errors.Is(err, poller.ErrJobFailed):
		return fiber.StatusBadGateway, "The hosted assistant could not complete the request"
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}
