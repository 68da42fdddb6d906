package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

const maxBodySize = 10 << 20 // 10 MiB

// envelope is the body of every JSON response.
type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    any               `json:"data"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func respond(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, envelope{Message: message})
}

func failValidation(c echo.Context, verr *domain.ValidationError) error {
	return c.JSON(http.StatusBadRequest, envelope{Message: "Validation failed", Errors: verr.Fields})
}

// decodeBody reads a JSON body with sonic. Unknown fields are ignored so
// clients may send back whole task objects.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "invalid JSON body")
	}
	return nil
}

// JSONSerializer encodes echo responses with sonic.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (JSONSerializer) Deserialize(c echo.Context, i any) error {
	err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body").SetInternal(err)
	}
	return nil
}

// ErrorHandler renders framework errors (unknown routes, body limits, rate
// limiting) in the response envelope.
func ErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		message := "Internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			message = fmt.Sprint(he.Message)
			if status == http.StatusNotFound && message == http.StatusText(http.StatusNotFound) {
				message = "Route " + c.Request().URL.Path + " not found"
			}
		} else {
			logger.WithError(err).WithField("path", c.Request().URL.Path).Error("unhandled error")
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = fail(c, status, message)
		}
		if err != nil {
			logger.WithError(err).Warn("write error response")
		}
	}
}
