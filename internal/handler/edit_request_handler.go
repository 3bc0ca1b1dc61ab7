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

type editRequestWorkflow interface {
	Submit(ctx context.Context, actor *models.JWTClaims, channel models.EditChannel, req dto.SubmitEditRequest) (*models.EditRequest, error)
	Cancel(ctx context.Context, actor *models.JWTClaims, id string) error
	Process(ctx context.Context, actor *models.JWTClaims, req dto.ProcessEditRequest) (*models.EditRequest, error)
	MyRequests(ctx context.Context, actor *models.JWTClaims, query dto.EditRequestQuery) ([]models.EditRequest, *models.Pagination, error)
	AllRequests(ctx context.Context, actor *models.JWTClaims, query dto.EditRequestQuery) ([]models.EditRequest, *models.Pagination, error)
}

// EditRequestHandler exposes the edit-request approval workflow.
type EditRequestHandler struct {
	service editRequestWorkflow
}

// NewEditRequestHandler constructs the handler.
func NewEditRequestHandler(svc *service.EditRequestService) *EditRequestHandler {
	return &EditRequestHandler{service: svc}
}

// SubmitDispatcher godoc
// @Summary Submit edit request (dispatcher channel)
// @Tags Edit Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitEditRequest true "Proposed changes"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedule-admin/edit-request [post]
func (h *EditRequestHandler) SubmitDispatcher(c *gin.Context) {
	h.submit(c, models.EditChannelDispatcher)
}

// SubmitAccountant godoc
// @Summary Submit edit request (accountant channel)
// @Tags Edit Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitEditRequest true "Proposed changes"
// @Success 201 {object} response.Envelope
// @Router /schedule-admin/edit-request-ke-toan [post]
func (h *EditRequestHandler) SubmitAccountant(c *gin.Context) {
	h.submit(c, models.EditChannelAccountant)
}

func (h *EditRequestHandler) submit(c *gin.Context, channel models.EditChannel) {
	var req dto.SubmitEditRequest
	if !bindJSON(c, &req, "invalid edit request payload") {
		return
	}
	request, err := h.service.Submit(c.Request.Context(), middleware.Actor(c), channel, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Process godoc
// @Summary Approve or reject an edit request
// @Description Rejecting requires a note. Approval applies the changes and records history atomically.
// @Tags Edit Requests
// @Accept json
// @Produce json
// @Param payload body dto.ProcessEditRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedule-admin/edit-process [post]
func (h *EditRequestHandler) Process(c *gin.Context) {
	var req dto.ProcessEditRequest
	if !bindJSON(c, &req, "invalid process payload") {
		return
	}
	request, err := h.service.Process(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// MyRequests godoc
// @Summary List requests submitted by the caller
// @Tags Edit Requests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedule-admin/my-requests [get]
func (h *EditRequestHandler) MyRequests(c *gin.Context) {
	var query dto.EditRequestQuery
	if !bindQuery(c, &query, "invalid query parameters") {
		return
	}
	items, pagination, err := h.service.MyRequests(c.Request.Context(), middleware.Actor(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// AllRequests godoc
// @Summary List requests awaiting or past review
// @Description Pending requests come first, then newest first.
// @Tags Edit Requests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param channel query string false "dieuVan or keToan"
// @Success 200 {object} response.Envelope
// @Router /schedule-admin/all-requests [get]
func (h *EditRequestHandler) AllRequests(c *gin.Context) {
	var query dto.EditRequestQuery
	if !bindQuery(c, &query, "invalid query parameters") {
		return
	}
	items, pagination, err := h.service.AllRequests(c.Request.Context(), middleware.Actor(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Cancel godoc
// @Summary Cancel a pending edit request
// @Tags Edit Requests
// @Param id path string true "Request ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /schedule-admin/delete-edit-request/{id} [delete]
func (h *EditRequestHandler) Cancel(c *gin.Context) {
	if err := h.service.Cancel(c.Request.Context(), middleware.Actor(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
