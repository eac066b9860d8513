package sync

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medrec/patient-registry/internal/domain/patient"
)

// Handler is the HTTP ingestion entrypoint for change-event batches, used
// by record-store engines that push their feed over HTTP instead of the
// broker.
type Handler struct {
	sync   *Synchronizer
	logger zerolog.Logger
}

func NewHandler(sync *Synchronizer, logger zerolog.Logger) *Handler {
	return &Handler{sync: sync, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/sync", h.Ingest)
}

type ingestRequest struct {
	Events []patient.ChangeEvent `json:"events"`
}

// Ingest processes a batch best-effort. Partial failures are logged, not
// surfaced: failing the whole batch would poison-pill the feed, and
// redelivery converges the index anyway.
func (h *Handler) Ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed change-event batch")
	}

	result := h.sync.ProcessBatch(c.Request().Context(), req.Events)
	if result.Failed > 0 {
		h.logger.Warn().
			Int("failed", result.Failed).
			Int("indexed", result.Indexed).
			Msg("change-event batch completed with failures")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Data synced successfully"})
}
