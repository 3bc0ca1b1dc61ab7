package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-trip-api/internal/dto"
	"github.com/noah-isme/fleet-trip-api/internal/middleware"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	"github.com/noah-isme/fleet-trip-api/internal/service"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
	"github.com/noah-isme/fleet-trip-api/pkg/response"
)

const maxImportBytes = 10 << 20

type tripSpreadsheet interface {
	ExportTrips(ctx context.Context, actor *models.JWTClaims, query dto.TripQuery) (*dto.ExportFile, error)
	ImportTrips(ctx context.Context, actor *models.JWTClaims, r io.Reader) (*dto.ImportTripsResult, error)
}

// ExcelHandler exposes xlsx import and export of trips.
type ExcelHandler struct {
	service tripSpreadsheet
}

// NewExcelHandler constructs the handler.
func NewExcelHandler(svc *service.ExcelService) *ExcelHandler {
	return &ExcelHandler{service: svc}
}

// Export godoc
// @Summary Export trips to xlsx
// @Description Accepts the same filters as the trip listing.
// @Tags Trips
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} file
// @Router /schedule-admin/export [get]
func (h *ExcelHandler) Export(c *gin.Context) {
	file, err := h.service.ExportTrips(c.Request.Context(), middleware.Actor(c), tripQueryFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeFile(c, file)
}

// Import godoc
// @Summary Import trips from xlsx
// @Description The first sheet is read; the header row may use field keys or column titles.
// @Tags Trips
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Workbook"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedule-admin/import [post]
func (h *ExcelHandler) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "file is required"))
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "only .xlsx files are accepted"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation, "cannot read uploaded file"))
		return
	}
	defer file.Close()

	result, err := h.service.ImportTrips(c.Request.Context(), middleware.Actor(c), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
