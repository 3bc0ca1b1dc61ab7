package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	"github.com/noah-isme/fleet-trip-api/internal/repository"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
)

type editRequestStore interface {
	Create(ctx context.Context, req *models.EditRequest) error
	GetByID(ctx context.Context, id string) (*models.EditRequest, error)
	GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.EditRequest, error)
	MarkProcessedTx(ctx context.Context, tx *sqlx.Tx, params repository.ProcessEditRequestParams) error
	DeletePending(ctx context.Context, id string) error
	List(ctx context.Context, filter models.EditRequestFilter) ([]models.EditRequest, int, error)
}

type tripLocker interface {
	FindByID(ctx context.Context, id string) (*models.Trip, error)
	FindForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Trip, error)
}

// Request actions recorded in metrics.
const (
	editRequestSubmitted = "submitted"
	editRequestCancelled = "cancelled"
)

// EditRequestService runs the submit/cancel/approve/reject workflow.
type EditRequestService struct {
	requests  editRequestStore
	trips     tripLocker
	tx        txProvider
	editor    *TripEditor
	history   historyInvalidator
	metrics   *MetricsService
	logger    *zap.Logger
	pageLimit int
	now       func() time.Time
}

// NewEditRequestService constructs the service. history and metrics may be nil.
func NewEditRequestService(requests editRequestStore, trips tripLocker, tx txProvider, editor *TripEditor, history historyInvalidator, metrics *MetricsService, maxPageSize int, logger *zap.Logger) *EditRequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPageSize <= 0 {
		maxPageSize = 200
	}
	return &EditRequestService{
		requests:  requests,
		trips:     trips,
		tx:        tx,
		editor:    editor,
		history:   history,
		metrics:   metrics,
		logger:    logger,
		pageLimit: maxPageSize,
		now:       time.Now,
	}
}

// Submit stores a pending edit request. The trip is left untouched.
func (s *EditRequestService) Submit(ctx context.Context, actor *models.JWTClaims, channel models.EditChannel, req dto.SubmitEditRequest) (*models.EditRequest, error) {
	if actor == nil || strings.TrimSpace(actor.UserID) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "requester is required")
	}
	switch channel {
	case models.EditChannelDispatcher:
		if !actor.HasRole(models.RoleAdmin, models.RoleDispatcher) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only dispatchers can use this channel")
		}
	case models.EditChannelAccountant:
		if !actor.HasRole(models.RoleAdmin, models.RoleAccountant) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only accountants can use this channel")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown request channel")
	}

	tripID := strings.TrimSpace(req.RideID)
	if tripID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rideID is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	if _, err := s.editor.Parse(req.Changes); err != nil {
		return nil, err
	}

	trip, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "trip not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load trip")
	}
	if trip.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "trip not found")
	}
	if channel == models.EditChannelDispatcher {
		if err := ensureOwnTrip(actor, trip); err != nil {
			return nil, err
		}
	}

	request := &models.EditRequest{
		TripID:          trip.ID,
		MaChuyen:        trip.MaChuyen,
		Channel:         channel,
		RequestedBy:     actor.UserID,
		RequestedByName: actor.DisplayName(),
		Changes:         req.Changes,
		Reason:          reason,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to submit edit request")
	}
	s.metrics.RecordEditRequest(editRequestSubmitted)
	s.logger.Info("edit request submitted",
		zap.String("request_id", request.ID),
		zap.String("trip_id", request.TripID),
		zap.String("channel", string(channel)),
		zap.String("actor", actor.UserID),
	)
	return request, nil
}

// Cancel deletes a pending request. Only the requester or an admin may cancel.
func (s *EditRequestService) Cancel(ctx context.Context, actor *models.JWTClaims, id string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if request.RequestedBy != actor.UserID && actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only the requester can cancel this request")
	}
	if !request.IsPending() {
		return appErrors.Clone(appErrors.ErrInvalidState, "only pending requests can be cancelled")
	}
	if err := s.requests.DeletePending(ctx, request.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidState, "only pending requests can be cancelled")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal, "failed to cancel edit request")
	}
	s.metrics.RecordEditRequest(editRequestCancelled)
	return nil
}

// Process approves or rejects a pending request in one transaction.
func (s *EditRequestService) Process(ctx context.Context, actor *models.JWTClaims, req dto.ProcessEditRequest) (result *models.EditRequest, err error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(req.RequestID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requestID is required")
	}
	action := models.EditAction(strings.ToLower(strings.TrimSpace(req.Action)))
	if action != models.EditActionApprove && action != models.EditActionReject {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be approve or reject")
	}
	note := strings.TrimSpace(req.Note)
	if action == models.EditActionReject && note == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "note is required when rejecting")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	request, err := s.requests.GetForUpdateTx(ctx, tx, req.RequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "edit request not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal, "failed to load edit request")
		return nil, err
	}
	if err = canProcess(actor, request); err != nil {
		return nil, err
	}
	if !request.IsPending() {
		err = appErrors.Clone(appErrors.ErrInvalidState, "edit request has already been processed")
		return nil, err
	}

	processedAt := s.now().UTC()
	params := repository.ProcessEditRequestParams{
		ID:              request.ID,
		ProcessedBy:     actor.UserID,
		ProcessedByName: actor.DisplayName(),
		ProcessedAt:     processedAt,
		ChangedFields:   models.FieldChanges{},
	}

	if action == models.EditActionReject {
		params.Status = models.EditRequestRejected
		params.RejectNote = &note
	} else {
		params.Status = models.EditRequestApproved
		var trip *models.Trip
		trip, err = s.trips.FindForUpdateTx(ctx, tx, request.TripID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = appErrors.Clone(appErrors.ErrNotFound, "trip not found")
				return nil, err
			}
			err = appErrors.Wrap(err, appErrors.ErrInternal, "failed to load trip")
			return nil, err
		}
		if trip.IsDeleted {
			err = appErrors.Clone(appErrors.ErrInvalidState, "trip has been deleted")
			return nil, err
		}
		requestID := request.ID
		approver := actor.UserID
		approverName := actor.DisplayName()
		var applied *TripEditResult
		applied, err = s.editor.Apply(ctx, tx, trip, request.Changes, TripEdit{
			Source:          models.HistorySourceApproval,
			RequestID:       &requestID,
			RequestedBy:     request.RequestedBy,
			RequestedByName: request.RequestedByName,
			ApprovedBy:      &approver,
			ApprovedByName:  &approverName,
			Reason:          request.Reason,
		})
		if err != nil {
			err = asAppError(err, "failed to apply edit request")
			return nil, err
		}
		params.ChangedFields = applied.ChangedFields
	}

	if err = s.requests.MarkProcessedTx(ctx, tx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrInvalidState, "edit request has already been processed")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal, "failed to update edit request")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal, "failed to commit edit request")
		return nil, err
	}

	request.Status = params.Status
	request.RejectNote = params.RejectNote
	request.ChangedFields = params.ChangedFields
	request.ProcessedBy = &params.ProcessedBy
	request.ProcessedByName = &params.ProcessedByName
	request.ProcessedAt = &processedAt

	s.metrics.RecordEditRequest(string(request.Status))
	if request.Status == models.EditRequestApproved {
		if s.history != nil {
			s.history.Invalidate(ctx, request.TripID)
		}
		s.metrics.RecordTripEdit(models.HistorySourceApproval)
	}
	s.logger.Info("edit request processed",
		zap.String("request_id", request.ID),
		zap.String("status", string(request.Status)),
		zap.Int("changed_fields", len(request.ChangedFields)),
		zap.String("actor", actor.UserID),
	)
	return request, nil
}

func canProcess(actor *models.JWTClaims, request *models.EditRequest) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleAccountant:
		if request.Channel == models.EditChannelDispatcher {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not allowed to process this request")
}

// MyRequests lists requests submitted by the actor.
func (s *EditRequestService) MyRequests(ctx context.Context, actor *models.JWTClaims, query dto.EditRequestQuery) ([]models.EditRequest, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter, err := s.filterFromQuery(query)
	if err != nil {
		return nil, nil, err
	}
	filter.RequestedBy = actor.UserID
	return s.list(ctx, filter)
}

// AllRequests lists requests for reviewers. Accountants only see the dispatcher queue.
func (s *EditRequestService) AllRequests(ctx context.Context, actor *models.JWTClaims, query dto.EditRequestQuery) ([]models.EditRequest, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !actor.HasRole(models.RoleAdmin, models.RoleAccountant) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to review requests")
	}
	filter, err := s.filterFromQuery(query)
	if err != nil {
		return nil, nil, err
	}
	if actor.Role == models.RoleAccountant {
		filter.Channel = models.EditChannelDispatcher
	}
	return s.list(ctx, filter)
}

func (s *EditRequestService) list(ctx context.Context, filter models.EditRequestFilter) ([]models.EditRequest, *models.Pagination, error) {
	items, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to list edit requests")
	}
	if items == nil {
		items = []models.EditRequest{}
	}
	return items, models.NewPagination(filter.Page, filter.Limit, total), nil
}

func (s *EditRequestService) filterFromQuery(query dto.EditRequestQuery) (models.EditRequestFilter, error) {
	filter := models.EditRequestFilter{
		TripID:   strings.TrimSpace(query.RideID),
		MaChuyen: strings.TrimSpace(query.MaChuyen),
		Page:     query.Page,
		Limit:    query.Limit,
	}
	for _, raw := range splitCSV(query.Status) {
		status := models.EditRequestStatus(strings.ToLower(raw))
		switch status {
		case models.EditRequestPending, models.EditRequestApproved, models.EditRequestRejected:
			filter.Status = append(filter.Status, status)
		default:
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid status filter: "+raw)
		}
	}
	if channel := strings.TrimSpace(query.Channel); channel != "" {
		switch models.EditChannel(channel) {
		case models.EditChannelDispatcher, models.EditChannelAccountant:
			filter.Channel = models.EditChannel(channel)
		default:
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid channel filter: "+channel)
		}
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > s.pageLimit {
		filter.Limit = s.pageLimit
	}
	return filter, nil
}

func (s *EditRequestService) load(ctx context.Context, id string) (*models.EditRequest, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request id is required")
	}
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "edit request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load edit request")
	}
	return request, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
