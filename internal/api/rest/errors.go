package rest

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/banking/ewa-risk-service/internal/domain"
	"github.com/banking/ewa-risk-service/internal/pkg/logger"
)

// APIError is the JSON body of every error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps service errors onto HTTP statuses
func statusFor(err error) (int, APIError) {
	var he *echo.HTTPError
	var ve validator.ValidationErrors

	switch {
	case errors.As(err, &he):
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, APIError{Code: codeForStatus(he.Code), Message: msg}
	case errors.As(err, &ve):
		return http.StatusBadRequest, APIError{Code: "VALIDATION_FAILED", Message: ve.Error()}
	case errors.Is(err, domain.ErrSnapshotNotFound):
		return http.StatusNotFound, APIError{Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidEntityType):
		return http.StatusBadRequest, APIError{Code: "INVALID_ENTITY_TYPE", Message: err.Error()}
	case errors.Is(err, domain.ErrScoreOutOfRange):
		return http.StatusBadRequest, APIError{Code: "SCORE_OUT_OF_RANGE", Message: err.Error()}
	case errors.Is(err, domain.ErrUnknownFactor):
		return http.StatusBadRequest, APIError{Code: "UNKNOWN_FACTOR", Message: err.Error()}
	case errors.Is(err, domain.ErrMissingFactor):
		return http.StatusBadRequest, APIError{Code: "MISSING_FACTOR", Message: err.Error()}
	case domain.IsInputError(err):
		return http.StatusBadRequest, APIError{Code: "INVALID_REQUEST", Message: err.Error()}
	default:
		return http.StatusInternalServerError, APIError{Code: "INTERNAL_ERROR", Message: "internal server error"}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "HTTP_ERROR"
	}
}

// ErrorHandler returns an echo.HTTPErrorHandler writing APIError bodies.
// Internal errors are logged; their details never reach the client.
func ErrorHandler(log *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.WithContext(c.Request().Context()).Error("request failed",
				logger.StringField("path", c.Path()),
				logger.ErrorField(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.Warn("write error response", logger.ErrorField(err))
		}
	}
}
