package patient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medrec/patient-registry/internal/platform/search"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/patient", h.List)
	e.GET("/patient/:id", h.Get)
	e.POST("/patient", h.Create)
	e.PUT("/patient/:id", h.Update)
	e.DELETE("/patient/:id", h.Delete)
}

func (h *Handler) Create(c echo.Context) error {
	var payload Payload
	if err := c.Bind(&payload); err != nil {
		return &ValidationError{Violations: []FieldViolation{{Field: "body", Message: "malformed request body"}}}
	}
	p, err := h.svc.Create(c.Request().Context(), &payload)
	if err != nil {
		return err
	}
	return respond(c, p)
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.svc.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, p)
}

func (h *Handler) List(c echo.Context) error {
	filter := ListFilter{
		Condition: c.QueryParam("condition"),
		Allergy:   c.QueryParam("allergy"),
	}
	entries, err := h.svc.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return respond(c, entries)
}

func (h *Handler) Update(c echo.Context) error {
	var payload Payload
	if err := c.Bind(&payload); err != nil {
		return &ValidationError{Violations: []FieldViolation{{Field: "body", Message: "malformed request body"}}}
	}
	p, err := h.svc.Update(c.Request().Context(), c.Param("id"), &payload)
	if err != nil {
		return err
	}
	return respond(c, p)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.SoftDelete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return respond(c, map[string]string{"message": "Patient deleted successfully"})
}

func respond(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, map[string]any{"data": data})
}

// ErrorHandler is the single translation point between handler failures and
// the response envelope. Nothing escapes to the transport layer unwrapped.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		var message any = err.Error()

		var ve *ValidationError
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ve):
			status = http.StatusBadRequest
			message = ve.Violations
		case errors.Is(err, ErrNotFound):
			status = http.StatusNotFound
			message = "Patient not found"
		case errors.Is(err, ErrStoreUnavailable), errors.Is(err, search.ErrUnavailable):
			status = http.StatusInternalServerError
			message = err.Error()
		case errors.As(err, &he):
			switch he.Code {
			case http.StatusMethodNotAllowed:
				status = http.StatusNotFound
				message = "Invalid request method"
			case http.StatusNotFound:
				status = http.StatusNotFound
				message = fmt.Sprintf("Invalid API endpoint -> %s", c.Request().URL.Path)
			default:
				status = he.Code
				message = fmt.Sprintf("%v", he.Message)
			}
		default:
			logger.Error().Err(err).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, map[string]any{"error": message})
	}
}
