package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
	"github.com/noah-isme/fleet-trip-api/pkg/export"
)

type historyReader interface {
	ListByTrip(ctx context.Context, tripID string) ([]models.HistoryEntry, error)
	CountByTrip(ctx context.Context, tripID string) (int, error)
}

type tripFinder interface {
	FindByID(ctx context.Context, id string) (*models.Trip, error)
}

type historyCache interface {
	Enabled() bool
	Key(parts ...string) string
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
	Versions(ctx context.Context, keys ...string) ([]int64, bool)
	Bump(ctx context.Context, key string) error
}

const (
	historyCacheScope   = "trip-history"
	historyVersionScope = "trip-history-version"
	allTripsVersion     = "all"
)

// History export formats.
const (
	HistoryFormatPDF = "pdf"
	HistoryFormatCSV = "csv"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

var historyExportHeaders = []string{"Thời gian", "Nguồn", "Người yêu cầu", "Người duyệt", "Lý do", "Trường", "Giá trị cũ", "Giá trị mới"}

// HistoryService serves the trip edit ledger.
type HistoryService struct {
	history  historyReader
	trips    tripFinder
	cache    historyCache
	csv      csvRenderer
	pdf      pdfRenderer
	location *time.Location
	logger   *zap.Logger
}

// NewHistoryService constructs the service. cache may be nil.
func NewHistoryService(history historyReader, trips tripFinder, cache historyCache, loc *time.Location, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &HistoryService{
		history:  history,
		trips:    trips,
		cache:    cache,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		location: loc,
		logger:   logger,
	}
}

// ListByTrip returns the ledger for a trip, newest first.
func (s *HistoryService) ListByTrip(ctx context.Context, actor *models.JWTClaims, tripID string) ([]models.HistoryEntry, error) {
	if _, err := s.authorizeTrip(ctx, actor, tripID); err != nil {
		return nil, err
	}
	key, cacheable := s.cacheKey(ctx, tripID, "list")
	var cached []models.HistoryEntry
	if cacheable {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	entries, err := s.history.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load trip history")
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	if cacheable {
		_ = s.cache.Set(ctx, key, entries, 0)
	}
	return entries, nil
}

// CountByTrip returns how many edits a trip has had.
func (s *HistoryService) CountByTrip(ctx context.Context, actor *models.JWTClaims, tripID string) (int, error) {
	if _, err := s.authorizeTrip(ctx, actor, tripID); err != nil {
		return 0, err
	}
	key, cacheable := s.cacheKey(ctx, tripID, "count")
	var cached int
	if cacheable {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}
	total, err := s.history.CountByTrip(ctx, tripID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal, "failed to count trip history")
	}
	if cacheable {
		_ = s.cache.Set(ctx, key, total, 0)
	}
	return total, nil
}

// Export renders the ledger of a trip as pdf or csv.
func (s *HistoryService) Export(ctx context.Context, actor *models.JWTClaims, tripID, format string) (*dto.ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = HistoryFormatPDF
	}
	if format != HistoryFormatPDF && format != HistoryFormatCSV {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be pdf or csv")
	}
	trip, err := s.authorizeTrip(ctx, actor, tripID)
	if err != nil {
		return nil, err
	}
	entries, err := s.history.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load trip history")
	}

	dataset := s.historyDataset(entries)
	filename := fmt.Sprintf("lich-su-%s.%s", trip.MaChuyen, format)
	if format == HistoryFormatCSV {
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to render csv")
		}
		return &dto.ExportFile{Filename: filename, ContentType: "text/csv", Data: data}, nil
	}
	data, err := s.pdf.Render(dataset, "Lịch sử chỉnh sửa "+trip.MaChuyen)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to render pdf")
	}
	return &dto.ExportFile{Filename: filename, ContentType: "application/pdf", Data: data}, nil
}

// Invalidate drops cached history for a trip after an edit. The version bump
// also orphans anything a reader that loaded before the edit writes afterwards.
func (s *HistoryService) Invalidate(ctx context.Context, tripID string) {
	s.invalidate(ctx, tripID, tripID, "*")
}

// InvalidateAll drops cached history of every trip, e.g. after a retention sweep.
func (s *HistoryService) InvalidateAll(ctx context.Context) {
	s.invalidate(ctx, allTripsVersion, "*")
}

func (s *HistoryService) invalidate(ctx context.Context, version string, pattern ...string) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Bump(ctx, s.cache.Key(historyVersionScope, version)); err != nil {
		s.logger.Warn("failed to bump trip history cache version", zap.String("version", version), zap.Error(err))
	}
	match := s.cache.Key(append([]string{historyCacheScope}, pattern...)...)
	if err := s.cache.Invalidate(ctx, match); err != nil {
		s.logger.Warn("failed to invalidate trip history cache", zap.String("pattern", match), zap.Error(err))
	}
}

func (s *HistoryService) authorizeTrip(ctx context.Context, actor *models.JWTClaims, tripID string) (*models.Trip, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(tripID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rideID is required")
	}
	trip, err := s.trips.FindByID(ctx, tripID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "trip not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to load trip")
	}
	if actor.Role == models.RoleDispatcher && trip.DieuVanID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "trip belongs to another dispatcher")
	}
	return trip, nil
}

func (s *HistoryService) historyDataset(entries []models.HistoryEntry) export.Dataset {
	rows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		approver := ""
		if entry.ApprovedByName != nil {
			approver = *entry.ApprovedByName
		}
		base := map[string]string{
			"Thời gian":     entry.CreatedAt.In(s.location).Format("02/01/2006 15:04"),
			"Nguồn":         string(entry.Source),
			"Người yêu cầu": entry.RequestedByName,
			"Người duyệt":   approver,
			"Lý do":         entry.Reason,
		}
		if len(entry.ChangedFields) == 0 {
			rows = append(rows, base)
			continue
		}
		keys := make([]string, 0, len(entry.ChangedFields))
		for key := range entry.ChangedFields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			row := make(map[string]string, len(base)+3)
			for k, v := range base {
				row[k] = v
			}
			label := key
			if field, ok := models.LookupTripField(key); ok {
				label = field.Label
			}
			row["Trường"] = label
			row["Giá trị cũ"] = entry.ChangedFields[key].Old
			row["Giá trị mới"] = entry.ChangedFields[key].New
			rows = append(rows, row)
		}
	}
	return export.Dataset{Headers: historyExportHeaders, Rows: rows}
}

func (s *HistoryService) cacheEnabled() bool {
	return s.cache != nil && s.cache.Enabled()
}

// cacheKey derives fleet:trip-history:<trip>:<all>.<trip version>:<suffix>.
func (s *HistoryService) cacheKey(ctx context.Context, tripID, suffix string) (string, bool) {
	if !s.cacheEnabled() {
		return "", false
	}
	versions, ok := s.cache.Versions(ctx,
		s.cache.Key(historyVersionScope, allTripsVersion),
		s.cache.Key(historyVersionScope, tripID),
	)
	if !ok || len(versions) != 2 {
		return "", false
	}
	return s.cache.Key(historyCacheScope, tripID, fmt.Sprintf("%d.%d", versions[0], versions[1]), suffix), true
}
