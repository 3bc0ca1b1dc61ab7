package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
	"github.com/noah-isme/fleet-trip-api/pkg/export"
)

type tripCatalog interface {
	Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateTripRequest) (*models.Trip, error)
	List(ctx context.Context, actor *models.JWTClaims, query dto.TripQuery) ([]models.Trip, *models.Pagination, error)
}

type xlsxRenderer interface {
	Render(data export.Dataset, sheet string) ([]byte, error)
}

const (
	tripSheetName   = "Chuyen"
	totalFeesHeader = "Tổng chi phí"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExcelService moves trips in and out of xlsx workbooks.
type ExcelService struct {
	trips         tripCatalog
	xlsx          xlsxRenderer
	importMaxRows int
	exportMaxRows int
	logger        *zap.Logger
	now           func() time.Time
}

// NewExcelService constructs the service. Non-positive caps fall back to defaults.
func NewExcelService(trips tripCatalog, importMaxRows, exportMaxRows int, logger *zap.Logger) *ExcelService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if importMaxRows <= 0 {
		importMaxRows = 2000
	}
	if exportMaxRows <= 0 {
		exportMaxRows = 10000
	}
	return &ExcelService{
		trips:         trips,
		xlsx:          export.NewXLSXExporter(),
		importMaxRows: importMaxRows,
		exportMaxRows: exportMaxRows,
		logger:        logger,
		now:           time.Now,
	}
}

// ExportTrips renders every trip matching the query, up to the export cap.
func (s *ExcelService) ExportTrips(ctx context.Context, actor *models.JWTClaims, query dto.TripQuery) (*dto.ExportFile, error) {
	fields := models.TripFields()
	headers := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		headers = append(headers, f.Label)
	}
	headers = append(headers, totalFeesHeader)

	rows := make([]map[string]string, 0)
	query.Page = 1
	for len(rows) < s.exportMaxRows {
		trips, pagination, err := s.trips.List(ctx, actor, query)
		if err != nil {
			return nil, err
		}
		for i := range trips {
			if len(rows) >= s.exportMaxRows {
				break
			}
			rows = append(rows, tripRow(fields, &trips[i]))
		}
		if len(trips) == 0 || pagination == nil || query.Page >= pagination.TotalPages {
			break
		}
		query.Page++
	}

	data, err := s.xlsx.Render(export.Dataset{Headers: headers, Rows: rows}, tripSheetName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to render xlsx")
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("chuyen-%s.xlsx", s.now().Format("20060102-150405")),
		ContentType: xlsxContentType,
		Data:        data,
	}, nil
}

func tripRow(fields []models.TripField, trip *models.Trip) map[string]string {
	row := make(map[string]string, len(fields)+1)
	for _, f := range fields {
		row[f.Label] = f.Canonical(f.Value(trip))
	}
	row[totalFeesHeader] = trip.TotalFees().String()
	return row
}

// ImportTrips creates one trip per data row of the first sheet. Headers may use
// JSON keys or column titles; unknown and read-only columns are ignored. Rows that
// fail are reported and do not stop the import.
func (s *ExcelService) ImportTrips(ctx context.Context, actor *models.JWTClaims, r io.Reader) (*dto.ImportTripsResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	headers, rows, err := export.ReadXLSX(r)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if len(rows) > s.importMaxRows {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("workbook has %d rows, limit is %d", len(rows), s.importMaxRows))
	}

	columns := make(map[int]models.TripField)
	for i, header := range headers {
		field, ok := models.LookupTripFieldByLabel(header)
		if !ok || !field.Editable {
			continue
		}
		columns[i] = field
	}
	if len(columns) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no recognised trip columns in header row")
	}

	result := &dto.ImportTripsResult{MaChuyens: []string{}, Failed: []dto.ImportRowError{}}
	for _, row := range rows {
		values := make(models.ProposedChanges, len(columns))
		for idx, field := range columns {
			if row.Cells[idx] == "" {
				continue
			}
			raw, _ := json.Marshal(row.Cells[idx])
			values[field.Key] = raw
		}
		if len(values) == 0 {
			continue
		}
		trip, err := s.trips.Create(ctx, actor, dto.CreateTripRequest{Values: values})
		if err != nil {
			result.Failed = append(result.Failed, dto.ImportRowError{Row: row.Line, Error: appErrors.FromError(err).Message})
			continue
		}
		result.Created++
		result.MaChuyens = append(result.MaChuyens, trip.MaChuyen)
	}

	s.logger.Info("trip import finished",
		zap.Int("created", result.Created),
		zap.Int("failed", len(result.Failed)),
		zap.String("actor", actor.UserID),
	)
	return result, nil
}
