package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/envwatch/enviro-server/internal/apperrors"
	"github.com/envwatch/enviro-server/internal/alerting"
	"github.com/envwatch/enviro-server/pkg/config"
)

// NewApp builds the fiber application with the API error mapping installed.
func NewApp(cfg *config.HTTPConfig, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorHandler: newErrorHandler(logger),
	})

	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"status": "ok"})
	})

	return app
}

// newErrorHandler maps the error taxonomy onto HTTP statuses: validation
// failures carry field detail on 400, store outages return 503 with retry
// guidance, a busy tick guard is 409.
func newErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(ctx *fiber.Ctx, err error) error {
		var ve *apperrors.ValidationError
		if errors.As(err, &ve) {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "validation failed",
				"fields": ve.Fields,
			})
		}

		var nfe *apperrors.NotFoundError
		if errors.As(err, &nfe) {
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": nfe.Error(),
			})
		}

		if errors.Is(err, alerting.ErrTickInProgress) {
			return ctx.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "an evaluation tick is already running",
			})
		}

		if apperrors.IsStoreUnavailable(err) {
			logger.Error("store unavailable", zap.Error(err))
			ctx.Set("Retry-After", "30")
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "storage temporarily unavailable, retry shortly",
			})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
		}

		logger.Error("unhandled request error", zap.Error(err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}
}
