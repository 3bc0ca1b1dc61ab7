package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type tripStore interface {
	NextCodeTx(ctx context.Context, tx *sqlx.Tx, month int) (int, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, trip *models.Trip) error
	FindByID(ctx context.Context, id string) (*models.Trip, error)
	FindForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Trip, error)
	UpdateTx(ctx context.Context, tx *sqlx.Tx, trip *models.Trip) error
	List(ctx context.Context, filter models.TripFilter) ([]models.Trip, int, error)
	SoftDelete(ctx context.Context, id, deletedBy string, at time.Time) error
	Restore(ctx context.Context, id string) error
	Purge(ctx context.Context, id string) error
}

type historyInvalidator interface {
	Invalidate(ctx context.Context, tripID string)
}

// TripServiceConfig tunes trip code allocation and paging.
type TripServiceConfig struct {
	CodePrefix      string
	Location        *time.Location
	DefaultPageSize int
	MaxPageSize     int
}

// TripService manages trip records and direct edits.
type TripService struct {
	trips   tripStore
	tx      txProvider
	editor  *TripEditor
	history historyInvalidator
	metrics *MetricsService
	cfg     TripServiceConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewTripService constructs the service. history and metrics may be nil.
func NewTripService(trips tripStore, tx txProvider, editor *TripEditor, history historyInvalidator, metrics *MetricsService, cfg TripServiceConfig, logger *zap.Logger) *TripService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = "BK"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 200
	}
	return &TripService{
		trips:   trips,
		tx:      tx,
		editor:  editor,
		history: history,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Create stores a new trip and allocates its maChuyen code.
func (s *TripService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateTripRequest) (trip *models.Trip, err error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.HasRole(models.RoleAdmin, models.RoleDispatcher) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins and dispatchers can create trips")
	}
	values := make(models.ProposedChanges, len(req.Values))
	for key, raw := range req.Values {
		if key == "maChuyen" || key == "dieuVan" {
			continue
		}
		values[key] = raw
	}
	if len(values) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "trip fields are required")
	}
	parsed, err := s.editor.Parse(values)
	if err != nil {
		return nil, err
	}

	trip = &models.Trip{DieuVanID: actor.UserID, DieuVan: actor.DisplayName()}
	if actor.Role == models.RoleAdmin && strings.TrimSpace(req.DieuVanID) != "" {
		trip.DieuVanID = strings.TrimSpace(req.DieuVanID)
		trip.DieuVan = strings.TrimSpace(req.DieuVan)
	}
	for _, change := range parsed {
		change.Field.Assign(trip, change.Value)
	}
	if trip.MaKH == "" && trip.TenKH == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "maKH or tenKH is required")
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

	month := s.codeMonth(trip)
	seq, err := s.trips.NextCodeTx(ctx, tx, month)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal, "failed to allocate trip code")
		return nil, err
	}
	trip.MaChuyen = FormatTripCode(s.cfg.CodePrefix, month, seq)

	if err = s.trips.CreateTx(ctx, tx, trip); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal, "failed to create trip")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal, "failed to commit trip")
		return nil, err
	}
	s.logger.Info("trip created", zap.String("trip_id", trip.ID), zap.String("ma_chuyen", trip.MaChuyen), zap.String("actor", actor.UserID))
	return trip, nil
}

// FormatTripCode renders <prefix><MM>.<seq4>, e.g. BK03.0042.
func FormatTripCode(prefix string, month, seq int) string {
	return fmt.Sprintf("%s%02d.%04d", prefix, month, seq)
}

func (s *TripService) codeMonth(trip *models.Trip) int {
	if trip.NgayBocHang != nil {
		return int(trip.NgayBocHang.Month())
	}
	return int(s.now().In(s.cfg.Location).Month())
}

// Get returns a live or deleted trip; dispatchers only see their own live trips.
func (s *TripService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Trip, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	trip, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if trip.IsDeleted && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "trip not found")
	}
	if err := ensureOwnTrip(actor, trip); err != nil {
		return nil, err
	}
	return trip, nil
}

// List returns live trips matching the query.
func (s *TripService) List(ctx context.Context, actor *models.JWTClaims, query dto.TripQuery) ([]models.Trip, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := s.filterFromQuery(query)
	if actor.Role == models.RoleDispatcher {
		filter.DieuVanID = actor.UserID
	}
	return s.list(ctx, filter)
}

// ListDeleted returns soft-deleted trips for the admin trash view.
func (s *TripService) ListDeleted(ctx context.Context, query dto.TripQuery) ([]models.Trip, *models.Pagination, error) {
	filter := s.filterFromQuery(query)
	filter.Deleted = true
	return s.list(ctx, filter)
}

func (s *TripService) list(ctx context.Context, filter models.TripFilter) ([]models.Trip, *models.Pagination, error) {
	trips, total, err := s.trips.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to list trips")
	}
	if trips == nil {
		trips = []models.Trip{}
	}
	return trips, models.NewPagination(filter.Page, filter.Limit, total), nil
}

func (s *TripService) filterFromQuery(query dto.TripQuery) models.TripFilter {
	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	return models.TripFilter{Fields: query.Fields, Page: page, Limit: limit}
}

// Update applies a direct edit and records it in the history ledger.
func (s *TripService) Update(ctx context.Context, actor *models.JWTClaims, id string, req dto.UpdateTripRequest) (*dto.TripEditResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	if _, err := s.editor.Parse(req.Changes); err != nil {
		return nil, err
	}
	return s.applyDirect(ctx, actor, id, req.Changes, req.Reason)
}

// SetWarning toggles the warning flag through the same edit path.
func (s *TripService) SetWarning(ctx context.Context, actor *models.JWTClaims, id string, req dto.WarningRequest) (*dto.TripEditResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.HasRole(models.RoleAdmin, models.RoleAccountant) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins and accountants can change warnings")
	}
	if req.Warning == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "warning is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		if *req.Warning {
			reason = "warning raised"
		} else {
			reason = "warning cleared"
		}
	}
	changes := models.ProposedChanges{"warning": json.RawMessage(strconv.FormatBool(*req.Warning))}
	return s.applyDirect(ctx, actor, id, changes, reason)
}

func (s *TripService) applyDirect(ctx context.Context, actor *models.JWTClaims, id string, changes models.ProposedChanges, reason string) (resp *dto.TripEditResponse, err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	trip, err := s.trips.FindForUpdateTx(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "trip not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal, "failed to load trip")
		return nil, err
	}
	if trip.IsDeleted {
		err = appErrors.Clone(appErrors.ErrNotFound, "trip not found")
		return nil, err
	}
	if err = ensureOwnTrip(actor, trip); err != nil {
		return nil, err
	}

	result, err := s.editor.Apply(ctx, tx, trip, changes, TripEdit{
		Source:          models.HistorySourceDirect,
		RequestedBy:     actor.UserID,
		RequestedByName: actor.DisplayName(),
		Reason:          reason,
	})
	if err != nil {
		err = asAppError(err, "failed to apply trip edit")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal, "failed to commit trip edit")
		return nil, err
	}

	s.afterEdit(ctx, trip.ID, models.HistorySourceDirect)
	return &dto.TripEditResponse{Trip: result.After, ChangedFields: result.ChangedFields, HistoryID: result.History.ID}, nil
}

func (s *TripService) afterEdit(ctx context.Context, tripID string, source models.HistorySource) {
	if s.history != nil {
		s.history.Invalidate(ctx, tripID)
	}
	s.metrics.RecordTripEdit(source)
}

// Delete soft-deletes a trip. Dispatchers may only delete their own trips.
func (s *TripService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	trip, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := ensureOwnTrip(actor, trip); err != nil {
		return err
	}
	if trip.IsDeleted {
		return appErrors.Clone(appErrors.ErrInvalidState, "trip is already deleted")
	}
	if err := s.trips.SoftDelete(ctx, id, actor.UserID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidState, "trip is already deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal, "failed to delete trip")
	}
	s.logger.Info("trip deleted", zap.String("trip_id", id), zap.String("actor", actor.UserID))
	return nil
}

// Purge hard-deletes a trip and its pending requests.
func (s *TripService) Purge(ctx context.Context, id string) error {
	if err := s.trips.Purge(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "trip not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal, "failed to purge trip")
	}
	if s.history != nil {
		s.history.Invalidate(ctx, id)
	}
	s.logger.Info("trip purged", zap.String("trip_id", id))
	return nil
}

// Restore brings back a soft-deleted trip.
func (s *TripService) Restore(ctx context.Context, id string) (*models.Trip, error) {
	if err := s.trips.Restore(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, loadErr := s.load(ctx, id); loadErr != nil {
				return nil, loadErr
			}
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "trip is not deleted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to restore trip")
	}
	return s.load(ctx, id)
}

func (s *TripService) load(ctx context.Context, id string) (*models.Trip, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "trip id is required")
	}
	trip, err := s.trips.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "trip not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load trip")
	}
	return trip, nil
}

func ensureOwnTrip(actor *models.JWTClaims, trip *models.Trip) error {
	if actor.Role == models.RoleDispatcher && trip.DieuVanID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "trip belongs to another dispatcher")
	}
	return nil
}

// asAppError keeps typed errors and wraps everything else as internal.
func asAppError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "trip not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal, message)
}
