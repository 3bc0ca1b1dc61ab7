package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-trip-api/internal/models"
	"github.com/noah-isme/fleet-trip-api/internal/repository"
)

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func (m *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, opts)
}

func newTxProviderMock(t *testing.T) (*txProviderMock, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlx.NewDb(db, "sqlmock"), mock: mock}, mock
}

// tripStoreStub keeps trips in memory and records what the services asked for.
type tripStoreStub struct {
	trips     map[string]*models.Trip
	sequences map[int]int
	updated   []models.Trip
	created   []models.Trip
	lastList  models.TripFilter
	listErr   error
	updateErr error
	purged    []string
	restored  []string
	deleted   []string
	purgedN   int64
	cutoff    time.Time
}

func newTripStoreStub(trips ...*models.Trip) *tripStoreStub {
	s := &tripStoreStub{trips: make(map[string]*models.Trip), sequences: make(map[int]int)}
	for _, trip := range trips {
		s.trips[trip.ID] = trip
	}
	return s
}

func (s *tripStoreStub) NextCodeTx(ctx context.Context, tx *sqlx.Tx, month int) (int, error) {
	s.sequences[month]++
	return s.sequences[month], nil
}

func (s *tripStoreStub) CreateTx(ctx context.Context, tx *sqlx.Tx, trip *models.Trip) error {
	trip.ID = "trip-" + trip.MaChuyen
	s.created = append(s.created, *trip)
	copyTrip := *trip
	s.trips[trip.ID] = &copyTrip
	return nil
}

func (s *tripStoreStub) FindByID(ctx context.Context, id string) (*models.Trip, error) {
	trip, ok := s.trips[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copyTrip := *trip
	return &copyTrip, nil
}

func (s *tripStoreStub) FindForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Trip, error) {
	return s.FindByID(ctx, id)
}

func (s *tripStoreStub) UpdateTx(ctx context.Context, tx *sqlx.Tx, trip *models.Trip) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, *trip)
	copyTrip := *trip
	s.trips[trip.ID] = &copyTrip
	return nil
}

func (s *tripStoreStub) List(ctx context.Context, filter models.TripFilter) ([]models.Trip, int, error) {
	s.lastList = filter
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	out := make([]models.Trip, 0, len(s.trips))
	for _, trip := range s.trips {
		if trip.IsDeleted != filter.Deleted {
			continue
		}
		if filter.DieuVanID != "" && trip.DieuVanID != filter.DieuVanID {
			continue
		}
		out = append(out, *trip)
	}
	return out, len(out), nil
}

func (s *tripStoreStub) SoftDelete(ctx context.Context, id, deletedBy string, at time.Time) error {
	trip, ok := s.trips[id]
	if !ok || trip.IsDeleted {
		return sql.ErrNoRows
	}
	trip.IsDeleted = true
	trip.DeletedBy = &deletedBy
	trip.DeletedAt = &at
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *tripStoreStub) Restore(ctx context.Context, id string) error {
	trip, ok := s.trips[id]
	if !ok || !trip.IsDeleted {
		return sql.ErrNoRows
	}
	trip.IsDeleted = false
	trip.DeletedAt = nil
	trip.DeletedBy = nil
	s.restored = append(s.restored, id)
	return nil
}

func (s *tripStoreStub) Purge(ctx context.Context, id string) error {
	if _, ok := s.trips[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.trips, id)
	s.purged = append(s.purged, id)
	return nil
}

func (s *tripStoreStub) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.purgedN, nil
}

type historyStoreStub struct {
	entries   []models.HistoryEntry
	onList    func()
	listCalls int
	countErr  error
	createErr error
	pruned    int64
	cutoff    time.Time
}

func (s *historyStoreStub) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.HistoryEntry) error {
	if s.createErr != nil {
		return s.createErr
	}
	entry.ID = "hist-" + string(rune('a'+len(s.entries)))
	entry.CreatedAt = time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *historyStoreStub) ListByTrip(ctx context.Context, tripID string) ([]models.HistoryEntry, error) {
	s.listCalls++
	out := make([]models.HistoryEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].TripID == tripID {
			out = append(out, s.entries[i])
		}
	}
	if s.onList != nil {
		s.onList()
	}
	return out, nil
}

func (s *historyStoreStub) CountByTrip(ctx context.Context, tripID string) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	total := 0
	for _, entry := range s.entries {
		if entry.TripID == tripID {
			total++
		}
	}
	return total, nil
}

func (s *historyStoreStub) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.pruned, nil
}

type requestStoreStub struct {
	requests  map[string]*models.EditRequest
	processed []repository.ProcessEditRequestParams
	lastList  models.EditRequestFilter
	// markErr overrides MarkProcessedTx, e.g. to simulate a concurrent reviewer.
	markErr error
}

func newRequestStoreStub(requests ...*models.EditRequest) *requestStoreStub {
	s := &requestStoreStub{requests: make(map[string]*models.EditRequest)}
	for _, req := range requests {
		s.requests[req.ID] = req
	}
	return s
}

func (s *requestStoreStub) Create(ctx context.Context, req *models.EditRequest) error {
	req.ID = "req-" + req.TripID
	req.Status = models.EditRequestPending
	copyReq := *req
	s.requests[req.ID] = &copyReq
	return nil
}

func (s *requestStoreStub) GetByID(ctx context.Context, id string) (*models.EditRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copyReq := *req
	return &copyReq, nil
}

func (s *requestStoreStub) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.EditRequest, error) {
	return s.GetByID(ctx, id)
}

func (s *requestStoreStub) MarkProcessedTx(ctx context.Context, tx *sqlx.Tx, params repository.ProcessEditRequestParams) error {
	if s.markErr != nil {
		return s.markErr
	}
	req, ok := s.requests[params.ID]
	if !ok || req.Status != models.EditRequestPending {
		return sql.ErrNoRows
	}
	req.Status = params.Status
	req.RejectNote = params.RejectNote
	req.ChangedFields = params.ChangedFields
	s.processed = append(s.processed, params)
	return nil
}

func (s *requestStoreStub) DeletePending(ctx context.Context, id string) error {
	req, ok := s.requests[id]
	if !ok || req.Status != models.EditRequestPending {
		return sql.ErrNoRows
	}
	delete(s.requests, id)
	return nil
}

func (s *requestStoreStub) List(ctx context.Context, filter models.EditRequestFilter) ([]models.EditRequest, int, error) {
	s.lastList = filter
	out := make([]models.EditRequest, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, *req)
	}
	return out, len(out), nil
}

type invalidatorSpy struct {
	trips []string
}

func (s *invalidatorSpy) Invalidate(ctx context.Context, tripID string) {
	s.trips = append(s.trips, tripID)
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func changes(pairs map[string]string) models.ProposedChanges {
	out := make(models.ProposedChanges, len(pairs))
	for key, raw := range pairs {
		out[key] = json.RawMessage(raw)
	}
	return out
}

func sampleTrip() *models.Trip {
	loaded := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	return &models.Trip{
		ID:          "trip-1",
		MaChuyen:    "BK03.0001",
		MaKH:        "KH01",
		TenKH:       "Công ty An Phát",
		DieuVanID:   "dv-1",
		DieuVan:     "Lan",
		TenLaiXe:    "Hùng",
		BienSoXe:    "51C-123.45",
		NgayBocHang: &loaded,
		CuocPhi:     money("400000"),
		BocXep:      money("50000"),
		GhiChu:      "giao gấp",
	}
}

var (
	adminActor      = &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Username: "admin", FullName: "Quản trị"}
	dispatcherActor = &models.JWTClaims{UserID: "dv-1", Role: models.RoleDispatcher, Username: "lan", FullName: "Lan"}
	otherDispatcher = &models.JWTClaims{UserID: "dv-2", Role: models.RoleDispatcher, Username: "minh"}
	accountantActor = &models.JWTClaims{UserID: "kt-1", Role: models.RoleAccountant, Username: "thu", FullName: "Thu"}
)
