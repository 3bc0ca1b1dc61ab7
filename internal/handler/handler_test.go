package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	internalmiddleware "github.com/noah-isme/fleet-trip-api/internal/middleware"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	"github.com/noah-isme/fleet-trip-api/internal/repository"
	"github.com/noah-isme/fleet-trip-api/internal/service"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
)

type tripManagerStub struct {
	created   dto.CreateTripRequest
	query     dto.TripQuery
	updateErr error
	deleted   string
}

func (s *tripManagerStub) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateTripRequest) (*models.Trip, error) {
	s.created = req
	return &models.Trip{ID: "trip-1", MaChuyen: "BK03.0001", DieuVanID: actor.UserID}, nil
}

func (s *tripManagerStub) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Trip, error) {
	if id != "trip-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "trip not found")
	}
	return &models.Trip{ID: id}, nil
}

func (s *tripManagerStub) List(ctx context.Context, actor *models.JWTClaims, query dto.TripQuery) ([]models.Trip, *models.Pagination, error) {
	s.query = query
	return []models.Trip{{ID: "trip-1"}}, models.NewPagination(1, 20, 1), nil
}

func (s *tripManagerStub) ListDeleted(ctx context.Context, query dto.TripQuery) ([]models.Trip, *models.Pagination, error) {
	return []models.Trip{}, models.NewPagination(1, 20, 0), nil
}

func (s *tripManagerStub) Update(ctx context.Context, actor *models.JWTClaims, id string, req dto.UpdateTripRequest) (*dto.TripEditResponse, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &dto.TripEditResponse{Trip: &models.Trip{ID: id}, ChangedFields: models.FieldChanges{}}, nil
}

func (s *tripManagerStub) SetWarning(ctx context.Context, actor *models.JWTClaims, id string, req dto.WarningRequest) (*dto.TripEditResponse, error) {
	return &dto.TripEditResponse{Trip: &models.Trip{ID: id, Warning: *req.Warning}}, nil
}

func (s *tripManagerStub) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	s.deleted = id
	return nil
}

func (s *tripManagerStub) Purge(ctx context.Context, id string) error { return nil }

func (s *tripManagerStub) Restore(ctx context.Context, id string) (*models.Trip, error) {
	return &models.Trip{ID: id}, nil
}

type editRequestWorkflowStub struct {
	channel   models.EditChannel
	submitted dto.SubmitEditRequest
	processed dto.ProcessEditRequest
	query     dto.EditRequestQuery
	cancelErr error
}

func (s *editRequestWorkflowStub) Submit(ctx context.Context, actor *models.JWTClaims, channel models.EditChannel, req dto.SubmitEditRequest) (*models.EditRequest, error) {
	s.channel = channel
	s.submitted = req
	return &models.EditRequest{ID: "req-1", Channel: channel, Status: models.EditRequestPending}, nil
}

func (s *editRequestWorkflowStub) Cancel(ctx context.Context, actor *models.JWTClaims, id string) error {
	return s.cancelErr
}

func (s *editRequestWorkflowStub) Process(ctx context.Context, actor *models.JWTClaims, req dto.ProcessEditRequest) (*models.EditRequest, error) {
	s.processed = req
	if req.Action == "reject" && req.Note == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "note is required when rejecting")
	}
	return &models.EditRequest{ID: req.RequestID, Status: models.EditRequestApproved}, nil
}

func (s *editRequestWorkflowStub) MyRequests(ctx context.Context, actor *models.JWTClaims, query dto.EditRequestQuery) ([]models.EditRequest, *models.Pagination, error) {
	s.query = query
	return []models.EditRequest{}, models.NewPagination(1, 20, 0), nil
}

func (s *editRequestWorkflowStub) AllRequests(ctx context.Context, actor *models.JWTClaims, query dto.EditRequestQuery) ([]models.EditRequest, *models.Pagination, error) {
	s.query = query
	return []models.EditRequest{}, models.NewPagination(1, 20, 0), nil
}

type historyProviderStub struct {
	format string
}

func (s *historyProviderStub) ListByTrip(ctx context.Context, actor *models.JWTClaims, tripID string) ([]models.HistoryEntry, error) {
	return []models.HistoryEntry{{ID: "h1", TripID: tripID}}, nil
}

func (s *historyProviderStub) CountByTrip(ctx context.Context, actor *models.JWTClaims, tripID string) (int, error) {
	return 3, nil
}

func (s *historyProviderStub) Export(ctx context.Context, actor *models.JWTClaims, tripID, format string) (*dto.ExportFile, error) {
	s.format = format
	return &dto.ExportFile{Filename: "lich-su-BK03.0001.csv", ContentType: "text/csv", Data: []byte("a,b\n")}, nil
}

type spreadsheetStub struct {
	imported []byte
}

func (s *spreadsheetStub) ExportTrips(ctx context.Context, actor *models.JWTClaims, query dto.TripQuery) (*dto.ExportFile, error) {
	return &dto.ExportFile{Filename: "chuyen.xlsx", ContentType: "application/octet-stream", Data: []byte("xlsx")}, nil
}

func (s *spreadsheetStub) ImportTrips(ctx context.Context, actor *models.JWTClaims, r io.Reader) (*dto.ImportTripsResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.imported = data
	return &dto.ImportTripsResult{Created: 1, MaChuyens: []string{"BK03.0001"}, Failed: []dto.ImportRowError{}}, nil
}

type pingerStub struct {
	err error
}

func (p pingerStub) PingContext(ctx context.Context) error { return p.err }

func withActor(role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: role, Username: "lan", FullName: "Lan"})
		c.Next()
	}
}

func newTestRouter(role models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if role != "" {
		router.Use(withActor(role))
	}
	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestTripHandlerCreateSplitsDispatcherFields(t *testing.T) {
	stub := &tripManagerStub{}
	h := &TripHandler{service: stub}
	router := newTestRouter(models.RoleAdmin)
	router.POST("/schedule-admin", h.Create)

	resp := performRequest(router, jsonRequest(http.MethodPost, "/schedule-admin", `{"maKH":"KH01","cuocPhi":400000,"dieuVanID":"dv-9","dieuVan":"Tuấn"}`))
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Contains(t, resp.Body.String(), `"maChuyen":"BK03.0001"`)
	assert.Equal(t, "dv-9", stub.created.DieuVanID)
	assert.Equal(t, "Tuấn", stub.created.DieuVan)
	assert.Len(t, stub.created.Values, 2)
	assert.JSONEq(t, `400000`, string(stub.created.Values["cuocPhi"]))

	resp = performRequest(router, jsonRequest(http.MethodPost, "/schedule-admin", `[1,2]`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	stub.created = dto.CreateTripRequest{}
	resp = performRequest(router, jsonRequest(http.MethodPost, "/schedule-admin", `{"maKH":"KH01","dieuVanID":42}`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "dieuVanID must be a string")
	assert.Nil(t, stub.created.Values)

	resp = performRequest(router, jsonRequest(http.MethodPost, "/schedule-admin", `{"maKH":"KH01","dieuVan":["Tuấn"]}`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), `"code":"VALIDATION_ERROR"`)
}

func TestTripHandlerListParsesFieldFilters(t *testing.T) {
	stub := &tripManagerStub{}
	h := &TripHandler{service: stub}
	router := newTestRouter(models.RoleAccountant)
	router.GET("/schedule-admin/all", h.List)

	resp := performRequest(router, httptest.NewRequest(http.MethodGet, "/schedule-admin/all?maKH=KH01&maKH=KH02&ngayBocHang=2024-03-05&page=2&limit=abc&soKm=9&tenKH=+", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"KH01", "KH02"}, stub.query.Fields["maKH"])
	assert.Equal(t, []string{"2024-03-05"}, stub.query.Fields["ngayBocHang"])
	assert.NotContains(t, stub.query.Fields, "soKm")
	assert.NotContains(t, stub.query.Fields, "tenKH")
	assert.Equal(t, 2, stub.query.Page)
	assert.Equal(t, 0, stub.query.Limit)

	var body struct {
		Pagination models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Pagination.Total)
}

func TestTripHandlerMapsServiceErrors(t *testing.T) {
	stub := &tripManagerStub{updateErr: appErrors.Clone(appErrors.ErrInvalidState, "trip is locked")}
	h := &TripHandler{service: stub}
	router := newTestRouter(models.RoleAdmin)
	router.GET("/schedule-admin/:id", h.Get)
	router.PUT("/schedule-admin/:id", h.Update)
	router.DELETE("/schedule-admin/:id", h.Delete)

	resp := performRequest(router, jsonRequest(http.MethodPut, "/schedule-admin/trip-1", `{"changes":{"cuocPhi":1},"reason":"x"}`))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), `"code":"INVALID_STATE"`)

	resp = performRequest(router, jsonRequest(http.MethodPut, "/schedule-admin/trip-1", `{"changes":`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performRequest(router, httptest.NewRequest(http.MethodGet, "/schedule-admin/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	stub.updateErr = errors.New("driver: bad connection")
	resp = performRequest(router, jsonRequest(http.MethodPut, "/schedule-admin/trip-1", `{"changes":{"cuocPhi":1},"reason":"x"}`))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.NotContains(t, resp.Body.String(), "bad connection")

	resp = performRequest(router, httptest.NewRequest(http.MethodDelete, "/schedule-admin/trip-1", nil))
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "trip-1", stub.deleted)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")
	badUUID := &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}

	trips := repository.NewTripRepository(sqlxDB)
	requests := repository.NewEditRequestRepository(sqlxDB)
	tripHandler := NewTripHandler(service.NewTripService(trips, sqlxDB, nil, nil, nil, service.TripServiceConfig{}, nil))
	requestHandler := NewEditRequestHandler(service.NewEditRequestService(requests, trips, sqlxDB, nil, nil, nil, 0, nil))

	router := newTestRouter(models.RoleAdmin)
	router.GET("/schedule-admin/:id", tripHandler.Get)
	router.POST("/schedule-admin/edit-process", requestHandler.Process)

	mock.ExpectQuery(regexp.QuoteMeta("FROM trips WHERE id = $1")).WithArgs("abc").WillReturnError(badUUID)
	resp := performRequest(router, httptest.NewRequest(http.MethodGet, "/schedule-admin/abc", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), `"code":"NOT_FOUND"`)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM trip_edit_requests WHERE id = $1 FOR UPDATE")).WithArgs("abc").WillReturnError(badUUID)
	mock.ExpectRollback()
	resp = performRequest(router, jsonRequest(http.MethodPost, "/schedule-admin/edit-process", `{"requestID":"abc","action":"approve"}`))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "edit request not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEditRequestHandlerRoutesChannels(t *testing.T) {
	stub := &editRequestWorkflowStub{}
	h := &EditRequestHandler{service: stub}
	router := newTestRouter(models.RoleAdmin)
	router.POST("/edit-request", h.SubmitDispatcher)
	router.POST("/edit-request-ke-toan", h.SubmitAccountant)
	router.POST("/edit-process", h.Process)
	router.GET("/all-requests", h.AllRequests)
	router.DELETE("/delete-edit-request/:id", h.Cancel)

	resp := performRequest(router, jsonRequest(http.MethodPost, "/edit-request", `{"rideID":"trip-1","changes":{"cuocPhi":500000},"reason":"sai"}`))
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, models.EditChannelDispatcher, stub.channel)
	assert.Equal(t, "trip-1", stub.submitted.RideID)

	resp = performRequest(router, jsonRequest(http.MethodPost, "/edit-request-ke-toan", `{"rideID":"trip-1","changes":{"ve":1},"reason":"sai"}`))
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, models.EditChannelAccountant, stub.channel)

	resp = performRequest(router, jsonRequest(http.MethodPost, "/edit-process", `{"requestID":"req-1","action":"reject"}`))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performRequest(router, jsonRequest(http.MethodPost, "/edit-process", `{"requestID":"req-1","action":"approve"}`))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"approved"`)

	resp = performRequest(router, httptest.NewRequest(http.MethodGet, "/all-requests?status=pending,approved&channel=dieuVan&page=2&limit=5", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "pending,approved", stub.query.Status)
	assert.Equal(t, "dieuVan", stub.query.Channel)
	assert.Equal(t, 2, stub.query.Page)
	assert.Equal(t, 5, stub.query.Limit)

	resp = performRequest(router, httptest.NewRequest(http.MethodGet, "/all-requests?page=two", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	stub.cancelErr = appErrors.Clone(appErrors.ErrInvalidState, "only pending requests can be cancelled")
	resp = performRequest(router, httptest.NewRequest(http.MethodDelete, "/delete-edit-request/req-1", nil))
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestHistoryHandlerEndpoints(t *testing.T) {
	stub := &historyProviderStub{}
	h := &HistoryHandler{service: stub}
	router := newTestRouter(models.RoleAccountant)
	router.GET("/history/:rideID", h.List)
	router.GET("/history-count/:rideID", h.Count)
	router.GET("/history/:rideID/export", h.Export)

	resp := performRequest(router, httptest.NewRequest(http.MethodGet, "/history-count/trip-1", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":{"count":3}}`, resp.Body.String())

	resp = performRequest(router, httptest.NewRequest(http.MethodGet, "/history/trip-1", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"rideID":"trip-1"`)

	resp = performRequest(router, httptest.NewRequest(http.MethodGet, "/history/trip-1/export?format=csv", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "csv", stub.format)
	assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=lich-su-BK03.0001.csv`, resp.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", resp.Body.String())
}

func multipartUpload(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	req := httptest.NewRequest(http.MethodPost, "/import", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestExcelHandlerImport(t *testing.T) {
	stub := &spreadsheetStub{}
	h := &ExcelHandler{service: stub}
	router := newTestRouter(models.RoleDispatcher)
	router.POST("/import", h.Import)
	router.GET("/export", h.Export)

	resp := performRequest(router, multipartUpload(t, "file", "chuyen.csv", []byte("a,b")))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "only .xlsx files are accepted")

	resp = performRequest(router, multipartUpload(t, "upload", "chuyen.xlsx", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performRequest(router, multipartUpload(t, "file", "Chuyen.XLSX", []byte("workbook")))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []byte("workbook"), stub.imported)
	assert.Contains(t, resp.Body.String(), `"created":1`)

	resp = performRequest(router, httptest.NewRequest(http.MethodGet, "/export", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "xlsx", resp.Body.String())
}

type authenticatorStub struct {
	inactive bool
}

func (s authenticatorStub) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	return nil, appErrors.ErrInvalidCredentials
}

func (s authenticatorStub) CurrentUser(ctx context.Context, actor *models.JWTClaims) (*models.UserInfo, error) {
	if s.inactive {
		return nil, appErrors.ErrInactiveAccount
	}
	return &models.UserInfo{ID: actor.UserID, Role: actor.Role}, nil
}

func TestAuthHandlerMe(t *testing.T) {
	h := &AuthHandler{service: authenticatorStub{}}
	router := newTestRouter(models.RoleAccountant)
	router.GET("/auth/me", h.Me)

	resp := performRequest(router, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"role":"keToan"`)

	anonymous := newTestRouter("")
	anonymous.GET("/auth/me", h.Me)
	resp = performRequest(anonymous, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	disabled := newTestRouter(models.RoleAccountant)
	disabled.GET("/auth/me", (&AuthHandler{service: authenticatorStub{inactive: true}}).Me)
	resp = performRequest(disabled, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestMetricsHandlerProbes(t *testing.T) {
	router := newTestRouter("")
	ready := NewMetricsHandler(service.NewMetricsService(), pingerStub{})
	down := NewMetricsHandler(nil, pingerStub{err: errors.New("connection refused")})
	router.GET("/health", ready.Health)
	router.GET("/ready", ready.Ready)
	router.GET("/ready-down", down.Ready)
	router.GET("/metrics", ready.Prometheus)

	assert.Equal(t, http.StatusOK, performRequest(router, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusOK, performRequest(router, httptest.NewRequest(http.MethodGet, "/ready", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, performRequest(router, httptest.NewRequest(http.MethodGet, "/ready-down", nil)).Code)

	resp := performRequest(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "go_goroutines")
}
