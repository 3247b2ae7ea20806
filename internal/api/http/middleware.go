package http

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/observability"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewDescriptor(apperrors.CodeServer, "", nil)
			}
			if err != nil {
				desc, status := describe(err)
				metrics.RecordError(c.Route().Path, desc.Code)
				body := fiber.Map{
					"code":      desc.Code,
					"message":   desc.Message,
					"retryable": desc.Retryable,
				}
				if desc.Field != "" {
					body["field"] = desc.Field
				}
				if status >= fiber.StatusInternalServerError {
					logger.Error("request failed", zap.Error(desc))
				}
				c.Status(status)
				_ = c.JSON(fiber.Map{"error": body})
				err = nil
			}
		}()
		return c.Next()
	}
}

// describe maps a handler error to a descriptor and status. Fiber's own
// errors keep their status.
func describe(err error) (*apperrors.Descriptor, int) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := apperrors.CodeUnknown
		switch fe.Code {
		case fiber.StatusNotFound:
			code = apperrors.CodeNotFound
		case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
			code = apperrors.CodeValidation
		}
		return &apperrors.Descriptor{Code: code, Message: fe.Message}, fe.Code
	}
	desc := apperrors.Describe(err)
	return desc, apperrors.HTTPStatus(desc.Code)
}
