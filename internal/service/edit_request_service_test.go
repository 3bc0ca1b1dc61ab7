package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
)

type editRequestFixture struct {
	svc      *EditRequestService
	tx       *txProviderMock
	trips    *tripStoreStub
	requests *requestStoreStub
	history  *historyStoreStub
	spy      *invalidatorSpy
}

func newEditRequestFixture(t *testing.T, requests ...*models.EditRequest) *editRequestFixture {
	t.Helper()
	f := &editRequestFixture{
		trips:    newTripStoreStub(sampleTrip()),
		requests: newRequestStoreStub(requests...),
		history:  &historyStoreStub{},
		spy:      &invalidatorSpy{},
	}
	f.tx, _ = newTxProviderMock(t)
	editor := NewTripEditor(f.trips, f.history, time.UTC)
	f.svc = NewEditRequestService(f.requests, f.trips, f.tx, editor, f.spy, NewMetricsService(), 100, zap.NewNop())
	f.svc.now = func() time.Time { return time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC) }
	return f
}

func pendingRequest(id string, channel models.EditChannel, changes models.ProposedChanges) *models.EditRequest {
	return &models.EditRequest{
		ID:              id,
		TripID:          "trip-1",
		MaChuyen:        "BK03.0001",
		Channel:         channel,
		RequestedBy:     "dv-1",
		RequestedByName: "Lan",
		Changes:         changes,
		Reason:          "khách báo sai cước",
		Status:          models.EditRequestPending,
	}
}

func TestEditRequestSubmitLeavesTripUntouched(t *testing.T) {
	f := newEditRequestFixture(t)

	req, err := f.svc.Submit(context.Background(), dispatcherActor, models.EditChannelDispatcher, dto.SubmitEditRequest{
		RideID:  "trip-1",
		Changes: changes(map[string]string{"cuocPhi": `500000`}),
		Reason:  " khách báo sai cước ",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EditRequestPending, req.Status)
	assert.Equal(t, "BK03.0001", req.MaChuyen)
	assert.Equal(t, "khách báo sai cước", req.Reason)
	assert.Equal(t, "Lan", req.RequestedByName)
	assert.Empty(t, f.trips.updated)
	assert.Empty(t, f.history.entries)
}

func TestEditRequestSubmitValidation(t *testing.T) {
	f := newEditRequestFixture(t)
	ctx := context.Background()
	valid := changes(map[string]string{"cuocPhi": `500000`})

	cases := []struct {
		name    string
		actor   *models.JWTClaims
		channel models.EditChannel
		req     dto.SubmitEditRequest
		code    string
	}{
		{"accountant on dispatcher channel", accountantActor, models.EditChannelDispatcher, dto.SubmitEditRequest{RideID: "trip-1", Changes: valid, Reason: "x"}, appErrors.ErrForbidden.Code},
		{"dispatcher on accountant channel", dispatcherActor, models.EditChannelAccountant, dto.SubmitEditRequest{RideID: "trip-1", Changes: valid, Reason: "x"}, appErrors.ErrForbidden.Code},
		{"missing reason", dispatcherActor, models.EditChannelDispatcher, dto.SubmitEditRequest{RideID: "trip-1", Changes: valid}, appErrors.ErrValidation.Code},
		{"missing ride", dispatcherActor, models.EditChannelDispatcher, dto.SubmitEditRequest{Changes: valid, Reason: "x"}, appErrors.ErrValidation.Code},
		{"unknown field", dispatcherActor, models.EditChannelDispatcher, dto.SubmitEditRequest{RideID: "trip-1", Changes: changes(map[string]string{"foo": `1`}), Reason: "x"}, appErrors.ErrValidation.Code},
		{"empty changes", dispatcherActor, models.EditChannelDispatcher, dto.SubmitEditRequest{RideID: "trip-1", Reason: "x"}, appErrors.ErrValidation.Code},
		{"unknown trip", dispatcherActor, models.EditChannelDispatcher, dto.SubmitEditRequest{RideID: "trip-9", Changes: valid, Reason: "x"}, appErrors.ErrNotFound.Code},
		{"foreign trip", otherDispatcher, models.EditChannelDispatcher, dto.SubmitEditRequest{RideID: "trip-1", Changes: valid, Reason: "x"}, appErrors.ErrForbidden.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tc.actor, tc.channel, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
		})
	}
	assert.Empty(t, f.requests.requests)
}

func TestEditRequestApproveAppliesDiff(t *testing.T) {
	f := newEditRequestFixture(t, pendingRequest("req-1", models.EditChannelDispatcher, changes(map[string]string{"cuocPhi": `500000`})))
	f.tx.mock.ExpectBegin()
	f.tx.mock.ExpectCommit()

	req, err := f.svc.Process(context.Background(), accountantActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "approve"})
	require.NoError(t, err)
	assert.Equal(t, models.EditRequestApproved, req.Status)
	assert.Equal(t, models.FieldChanges{"cuocPhi": {Old: "400000", New: "500000"}}, req.ChangedFields)
	require.NotNil(t, req.ProcessedBy)
	assert.Equal(t, "kt-1", *req.ProcessedBy)
	assert.Equal(t, "Thu", *req.ProcessedByName)

	trip, _ := f.trips.FindByID(context.Background(), "trip-1")
	assert.True(t, trip.CuocPhi.Equal(money("500000")))

	require.Len(t, f.history.entries, 1)
	entry := f.history.entries[0]
	assert.Equal(t, models.HistorySourceApproval, entry.Source)
	require.NotNil(t, entry.RequestID)
	assert.Equal(t, "req-1", *entry.RequestID)
	assert.Equal(t, "dv-1", entry.RequestedBy)
	assert.Equal(t, "kt-1", *entry.ApprovedBy)
	assert.Equal(t, "khách báo sai cước", entry.Reason)
	assert.Equal(t, []string{"trip-1"}, f.spy.trips)
	require.NoError(t, f.tx.mock.ExpectationsWereMet())
}

func TestEditRequestApproveWithoutDifferences(t *testing.T) {
	f := newEditRequestFixture(t, pendingRequest("req-1", models.EditChannelDispatcher, changes(map[string]string{"ghiChu": `"giao gấp"`})))
	f.tx.mock.ExpectBegin()
	f.tx.mock.ExpectCommit()

	req, err := f.svc.Process(context.Background(), adminActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "APPROVE"})
	require.NoError(t, err)
	assert.Equal(t, models.EditRequestApproved, req.Status)
	assert.Empty(t, req.ChangedFields)
	require.Len(t, f.history.entries, 1)
	assert.Empty(t, f.history.entries[0].ChangedFields)
}

func TestEditRequestSecondApprovalFails(t *testing.T) {
	f := newEditRequestFixture(t, pendingRequest("req-1", models.EditChannelDispatcher, changes(map[string]string{"cuocPhi": `500000`})))
	f.tx.mock.ExpectBegin()
	f.tx.mock.ExpectCommit()
	f.tx.mock.ExpectBegin()
	f.tx.mock.ExpectRollback()

	_, err := f.svc.Process(context.Background(), adminActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "approve"})
	require.NoError(t, err)

	_, err = f.svc.Process(context.Background(), adminActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "approve"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Len(t, f.history.entries, 1)
	assert.Len(t, f.trips.updated, 1)
	require.NoError(t, f.tx.mock.ExpectationsWereMet())
}

func TestEditRequestConcurrentReviewerLosesRace(t *testing.T) {
	f := newEditRequestFixture(t, pendingRequest("req-1", models.EditChannelDispatcher, changes(map[string]string{"cuocPhi": `500000`})))
	f.requests.markErr = sql.ErrNoRows
	f.tx.mock.ExpectBegin()
	f.tx.mock.ExpectRollback()

	_, err := f.svc.Process(context.Background(), adminActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "reject", Note: "trùng"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.spy.trips)
	require.NoError(t, f.tx.mock.ExpectationsWereMet())
}

func TestEditRequestRejectRequiresNote(t *testing.T) {
	f := newEditRequestFixture(t, pendingRequest("req-1", models.EditChannelDispatcher, changes(map[string]string{"cuocPhi": `500000`})))

	_, err := f.svc.Process(context.Background(), adminActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "reject", Note: "  "})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, 400, appErr.Status)

	_, err = f.svc.Process(context.Background(), adminActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "maybe"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EditRequestPending, f.requests.requests["req-1"].Status)
	require.NoError(t, f.tx.mock.ExpectationsWereMet())
}

func TestEditRequestRejectKeepsTrip(t *testing.T) {
	f := newEditRequestFixture(t, pendingRequest("req-1", models.EditChannelDispatcher, changes(map[string]string{"cuocPhi": `500000`})))
	f.tx.mock.ExpectBegin()
	f.tx.mock.ExpectCommit()

	req, err := f.svc.Process(context.Background(), accountantActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "reject", Note: " chứng từ thiếu "})
	require.NoError(t, err)
	assert.Equal(t, models.EditRequestRejected, req.Status)
	require.NotNil(t, req.RejectNote)
	assert.Equal(t, "chứng từ thiếu", *req.RejectNote)
	assert.Empty(t, f.trips.updated)
	assert.Empty(t, f.history.entries)
	assert.Empty(t, f.spy.trips)
}

func TestEditRequestAccountantCannotApproveOwnChannel(t *testing.T) {
	req := pendingRequest("req-1", models.EditChannelAccountant, changes(map[string]string{"cuocPhi": `500000`}))
	req.RequestedBy = "kt-1"
	f := newEditRequestFixture(t, req)
	f.tx.mock.ExpectBegin()
	f.tx.mock.ExpectRollback()

	_, err := f.svc.Process(context.Background(), accountantActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "approve"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.tx.mock.ExpectationsWereMet())
}

func TestEditRequestApproveOnDeletedTrip(t *testing.T) {
	f := newEditRequestFixture(t, pendingRequest("req-1", models.EditChannelDispatcher, changes(map[string]string{"cuocPhi": `500000`})))
	f.trips.trips["trip-1"].IsDeleted = true
	f.tx.mock.ExpectBegin()
	f.tx.mock.ExpectRollback()

	_, err := f.svc.Process(context.Background(), adminActor, dto.ProcessEditRequest{RequestID: "req-1", Action: "approve"})
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EditRequestPending, f.requests.requests["req-1"].Status)
}

func TestEditRequestProcessUnknownRequest(t *testing.T) {
	f := newEditRequestFixture(t)
	f.tx.mock.ExpectBegin()
	f.tx.mock.ExpectRollback()

	_, err := f.svc.Process(context.Background(), adminActor, dto.ProcessEditRequest{RequestID: "missing", Action: "approve"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEditRequestCancel(t *testing.T) {
	done := pendingRequest("req-2", models.EditChannelDispatcher, changes(map[string]string{"cuocPhi": `1`}))
	done.Status = models.EditRequestApproved
	f := newEditRequestFixture(t,
		pendingRequest("req-1", models.EditChannelDispatcher, changes(map[string]string{"cuocPhi": `1`})),
		done,
	)
	ctx := context.Background()

	err := f.svc.Cancel(ctx, otherDispatcher, "req-1")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = f.svc.Cancel(ctx, dispatcherActor, "req-2")
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.Cancel(ctx, dispatcherActor, "req-1"))
	assert.NotContains(t, f.requests.requests, "req-1")

	err = f.svc.Cancel(ctx, dispatcherActor, "req-1")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEditRequestListingFilters(t *testing.T) {
	f := newEditRequestFixture(t, pendingRequest("req-1", models.EditChannelDispatcher, changes(map[string]string{"cuocPhi": `1`})))
	ctx := context.Background()

	items, pagination, err := f.svc.MyRequests(ctx, dispatcherActor, dto.EditRequestQuery{Status: "pending, approved", Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "dv-1", f.requests.lastList.RequestedBy)
	assert.Equal(t, []models.EditRequestStatus{models.EditRequestPending, models.EditRequestApproved}, f.requests.lastList.Status)
	assert.Equal(t, 100, pagination.Limit)

	_, _, err = f.svc.MyRequests(ctx, dispatcherActor, dto.EditRequestQuery{Status: "done"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, _, err = f.svc.AllRequests(ctx, accountantActor, dto.EditRequestQuery{Channel: "keToan"})
	require.NoError(t, err)
	assert.Equal(t, models.EditChannelDispatcher, f.requests.lastList.Channel)
	assert.Empty(t, f.requests.lastList.RequestedBy)
	assert.Equal(t, 20, f.requests.lastList.Limit)

	_, _, err = f.svc.AllRequests(ctx, adminActor, dto.EditRequestQuery{Channel: "keToan"})
	require.NoError(t, err)
	assert.Equal(t, models.EditChannelAccountant, f.requests.lastList.Channel)

	_, _, err = f.svc.AllRequests(ctx, dispatcherActor, dto.EditRequestQuery{})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
