package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	"github.com/noah-isme/fleet-trip-api/internal/middleware"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	"github.com/noah-isme/fleet-trip-api/internal/service"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
	"github.com/noah-isme/fleet-trip-api/pkg/response"
)

type tripManager interface {
	Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateTripRequest) (*models.Trip, error)
	Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Trip, error)
	List(ctx context.Context, actor *models.JWTClaims, query dto.TripQuery) ([]models.Trip, *models.Pagination, error)
	ListDeleted(ctx context.Context, query dto.TripQuery) ([]models.Trip, *models.Pagination, error)
	Update(ctx context.Context, actor *models.JWTClaims, id string, req dto.UpdateTripRequest) (*dto.TripEditResponse, error)
	SetWarning(ctx context.Context, actor *models.JWTClaims, id string, req dto.WarningRequest) (*dto.TripEditResponse, error)
	Delete(ctx context.Context, actor *models.JWTClaims, id string) error
	Purge(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*models.Trip, error)
}

// TripHandler exposes trip CRUD endpoints under /schedule-admin.
type TripHandler struct {
	service tripManager
}

// NewTripHandler constructs the handler.
func NewTripHandler(svc *service.TripService) *TripHandler {
	return &TripHandler{service: svc}
}

// Create godoc
// @Summary Create trip
// @Description Body is a flat object of trip fields keyed by their JSON names. maChuyen is generated.
// @Tags Trips
// @Accept json
// @Produce json
// @Param payload body object true "Trip fields"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedule-admin [post]
func (h *TripHandler) Create(c *gin.Context) {
	var body map[string]json.RawMessage
	if !bindJSON(c, &body, "invalid trip payload") {
		return
	}
	req := dto.CreateTripRequest{Values: models.ProposedChanges{}}
	for key, raw := range body {
		var err error
		switch key {
		case "dieuVanID":
			err = json.Unmarshal(raw, &req.DieuVanID)
		case "dieuVan":
			err = json.Unmarshal(raw, &req.DieuVan)
		default:
			req.Values[key] = raw
		}
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, key+" must be a string"))
			return
		}
	}

	trip, err := h.service.Create(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, trip)
}

// List godoc
// @Summary List trips
// @Description Any trip field key may be used as a filter, repeated values are OR-ed. Date fields match the whole day (YYYY-MM-DD).
// @Tags Trips
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedule-admin/all [get]
func (h *TripHandler) List(c *gin.Context) {
	trips, pagination, err := h.service.List(c.Request.Context(), middleware.Actor(c), tripQueryFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, trips, pagination)
}

// ListDeleted godoc
// @Summary List soft-deleted trips
// @Tags Trips
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /schedule-admin/deleted [get]
func (h *TripHandler) ListDeleted(c *gin.Context) {
	trips, pagination, err := h.service.ListDeleted(c.Request.Context(), tripQueryFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, trips, pagination)
}

// Get godoc
// @Summary Get trip
// @Tags Trips
// @Produce json
// @Param id path string true "Trip ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedule-admin/{id} [get]
func (h *TripHandler) Get(c *gin.Context) {
	trip, err := h.service.Get(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, trip, nil)
}

// Update godoc
// @Summary Edit trip directly
// @Description Applies the changes immediately and records a history entry.
// @Tags Trips
// @Accept json
// @Produce json
// @Param id path string true "Trip ID"
// @Param payload body dto.UpdateTripRequest true "Changes and reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedule-admin/{id} [put]
func (h *TripHandler) Update(c *gin.Context) {
	var req dto.UpdateTripRequest
	if !bindJSON(c, &req, "invalid update payload") {
		return
	}
	result, err := h.service.Update(c.Request.Context(), middleware.Actor(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// SetWarning godoc
// @Summary Raise or clear the warning flag
// @Tags Trips
// @Accept json
// @Produce json
// @Param id path string true "Trip ID"
// @Param payload body dto.WarningRequest true "Warning flag"
// @Success 200 {object} response.Envelope
// @Router /schedule-admin/{id}/warning [patch]
func (h *TripHandler) SetWarning(c *gin.Context) {
	var req dto.WarningRequest
	if !bindJSON(c, &req, "invalid warning payload") {
		return
	}
	result, err := h.service.SetWarning(c.Request.Context(), middleware.Actor(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Soft delete trip
// @Tags Trips
// @Param id path string true "Trip ID"
// @Success 204
// @Router /schedule-admin/{id} [delete]
func (h *TripHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), middleware.Actor(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Purge godoc
// @Summary Permanently delete trip
// @Tags Trips
// @Param id path string true "Trip ID"
// @Success 204
// @Router /schedule-admin/{id}/permanent [delete]
func (h *TripHandler) Purge(c *gin.Context) {
	if err := h.service.Purge(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Restore godoc
// @Summary Restore soft-deleted trip
// @Tags Trips
// @Produce json
// @Param id path string true "Trip ID"
// @Success 200 {object} response.Envelope
// @Router /schedule-admin/{id}/restore [post]
func (h *TripHandler) Restore(c *gin.Context) {
	trip, err := h.service.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, trip, nil)
}
