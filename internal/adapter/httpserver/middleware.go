package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/credpulse/internal/domain"
	"github.com/pscheid92/credpulse/internal/platform/correlation"
	apperrors "github.com/pscheid92/credpulse/internal/platform/errors"
)

// correlationMiddleware adopts the caller's X-Request-ID (or generates one),
// stores it in the request context and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromIncoming(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var structuredErr *apperrors.Error
			var httpErr *echo.HTTPError
			switch {
			case errors.As(err, &structuredErr):
			case errors.As(err, &httpErr):
				structuredErr = WrapHTTPError(httpErr)
			default:
				structuredErr = mapDomainError(err)
			}

			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

// mapDomainError turns an engine error into its client-facing form.
func mapDomainError(err error) *apperrors.Error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, domain.ErrStoryNotFound):
		return apperrors.NotFoundError("story not found")
	case errors.Is(err, domain.ErrVoteNotFound):
		return apperrors.NotFoundError("vote not found")
	case errors.Is(err, domain.ErrAlreadyVoted):
		return apperrors.ConflictError("user already voted on this story")
	case errors.Is(err, domain.ErrPersistenceFailed):
		return apperrors.ExternalError("vote could not be persisted", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.UnavailableError("request cancelled", err)
	default:
		return apperrors.InternalError("internal server error", err)
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeConflict, apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeInternal, apperrors.TypeExternal, apperrors.TypeUnavailable:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok && msg != "" {
		message = msg
	}
	if message == "" {
		message = "internal server error"
	}

	var errType apperrors.ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		errType = apperrors.TypeValidation
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		errType = apperrors.TypeNotFound
	case http.StatusConflict:
		errType = apperrors.TypeConflict
	case http.StatusTooManyRequests:
		errType = apperrors.TypeRateLimited
	case http.StatusBadGateway:
		errType = apperrors.TypeExternal
	case http.StatusServiceUnavailable:
		errType = apperrors.TypeUnavailable
	default:
		errType = apperrors.TypeInternal
	}

	err := &apperrors.Error{
		Type:    errType,
		Message: message,
		Context: make(map[string]any),
	}

	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}

	return err
}
