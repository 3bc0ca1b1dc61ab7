package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	"github.com/noah-isme/fleet-trip-api/internal/middleware"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	"github.com/noah-isme/fleet-trip-api/internal/service"
	"github.com/noah-isme/fleet-trip-api/pkg/response"
)

type historyProvider interface {
	ListByTrip(ctx context.Context, actor *models.JWTClaims, tripID string) ([]models.HistoryEntry, error)
	CountByTrip(ctx context.Context, actor *models.JWTClaims, tripID string) (int, error)
	Export(ctx context.Context, actor *models.JWTClaims, tripID, format string) (*dto.ExportFile, error)
}

// HistoryHandler serves the trip edit ledger.
type HistoryHandler struct {
	service historyProvider
}

// NewHistoryHandler constructs the handler.
func NewHistoryHandler(svc *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{service: svc}
}

// List godoc
// @Summary Edit history of a trip
// @Tags History
// @Produce json
// @Param rideID path string true "Trip ID"
// @Success 200 {object} response.Envelope
// @Router /schedule-admin/history/{rideID} [get]
func (h *HistoryHandler) List(c *gin.Context) {
	entries, err := h.service.ListByTrip(c.Request.Context(), middleware.Actor(c), c.Param("rideID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Count godoc
// @Summary Number of edits recorded for a trip
// @Tags History
// @Produce json
// @Param rideID path string true "Trip ID"
// @Success 200 {object} response.Envelope
// @Router /schedule-admin/history-count/{rideID} [get]
func (h *HistoryHandler) Count(c *gin.Context) {
	total, err := h.service.CountByTrip(c.Request.Context(), middleware.Actor(c), c.Param("rideID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"count": total}, nil)
}

// Export godoc
// @Summary Download the edit history of a trip
// @Tags History
// @Produce application/pdf
// @Produce text/csv
// @Param rideID path string true "Trip ID"
// @Param format query string false "pdf (default) or csv"
// @Success 200 {file} file
// @Router /schedule-admin/history/{rideID}/export [get]
func (h *HistoryHandler) Export(c *gin.Context) {
	file, err := h.service.Export(c.Request.Context(), middleware.Actor(c), c.Param("rideID"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeFile(c, file)
}
