package dto

import (
	"github.com/noah-isme/fleet-trip-api/internal/models"
)

// CreateTripRequest carries the field values of a new trip keyed by their JSON names.
// DieuVanID and DieuVan are honoured for admins only.
type CreateTripRequest struct {
	DieuVanID string
	DieuVan   string
	Values    models.ProposedChanges
}

// UpdateTripRequest is the body of a direct trip edit.
type UpdateTripRequest struct {
	Changes models.ProposedChanges `json:"changes"`
	Reason  string                 `json:"reason"`
}

// WarningRequest toggles the warning flag of a trip.
type WarningRequest struct {
	Warning *bool  `json:"warning"`
	Reason  string `json:"reason"`
}

// TripQuery mirrors listing query parameters. Fields holds per-field filters.
type TripQuery struct {
	Fields map[string][]string
	Page   int
	Limit  int
}

// TripEditResponse reports the trip after an edit together with the recorded diff.
type TripEditResponse struct {
	Trip          *models.Trip        `json:"trip"`
	ChangedFields models.FieldChanges `json:"changedFields"`
	HistoryID     string              `json:"historyID"`
}

// ImportRowError describes a spreadsheet row that could not be imported.
type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportTripsResult summarises a spreadsheet import.
type ImportTripsResult struct {
	Created   int              `json:"created"`
	MaChuyens []string         `json:"maChuyens"`
	Failed    []ImportRowError `json:"failed"`
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}
