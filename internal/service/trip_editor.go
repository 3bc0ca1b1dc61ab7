package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/fleet-trip-api/internal/models"
	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
)

type tripWriter interface {
	UpdateTx(ctx context.Context, tx *sqlx.Tx, trip *models.Trip) error
}

type historyAppender interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.HistoryEntry) error
}

// TripEdit describes who is editing a trip and why.
type TripEdit struct {
	Source          models.HistorySource
	RequestID       *string
	RequestedBy     string
	RequestedByName string
	ApprovedBy      *string
	ApprovedByName  *string
	Reason          string
}

// TripEditResult is the outcome of TripEditor.Apply.
type TripEditResult struct {
	Before        *models.Trip
	After         *models.Trip
	ChangedFields models.FieldChanges
	History       *models.HistoryEntry
}

// ParsedChange is a proposed value resolved against the field registry.
type ParsedChange struct {
	Field models.TripField
	Value models.FieldValue
}

// TripEditor is the single write path for trip edits: direct edits, warning
// toggles and approved requests all go through Apply.
type TripEditor struct {
	trips    tripWriter
	history  historyAppender
	location *time.Location
}

// NewTripEditor constructs the editor. Dates without an offset are read in loc.
func NewTripEditor(trips tripWriter, history historyAppender, loc *time.Location) *TripEditor {
	if loc == nil {
		loc = time.UTC
	}
	return &TripEditor{trips: trips, history: history, location: loc}
}

// Parse validates proposed changes against the editable field registry.
func (e *TripEditor) Parse(changes models.ProposedChanges) ([]ParsedChange, error) {
	if len(changes) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "changes is required")
	}
	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parsed := make([]ParsedChange, 0, len(keys))
	for _, key := range keys {
		field, ok := models.LookupTripField(key)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown field: %s", key))
		}
		if !field.Editable {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %s is not editable", key))
		}
		value, err := parseFieldValue(field, changes[key], e.location)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid value for %s: %v", key, err))
		}
		parsed = append(parsed, ParsedChange{Field: field, Value: value})
	}
	return parsed, nil
}

// Diff compares proposed values with the trip using canonical string forms.
// Only keys whose trimmed forms differ are reported.
func Diff(trip *models.Trip, changes []ParsedChange) models.FieldChanges {
	diff := make(models.FieldChanges)
	for _, change := range changes {
		oldValue := strings.TrimSpace(change.Field.Canonical(change.Field.Value(trip)))
		newValue := strings.TrimSpace(change.Field.Canonical(change.Value))
		if oldValue != newValue {
			diff[change.Field.Key] = models.FieldChange{Old: oldValue, New: newValue}
		}
	}
	return diff
}

// Apply assigns every proposed key to the locked trip, persists it and appends
// the history entry inside tx. Callers own the transaction.
func (e *TripEditor) Apply(ctx context.Context, tx *sqlx.Tx, trip *models.Trip, changes models.ProposedChanges, edit TripEdit) (*TripEditResult, error) {
	if trip == nil {
		return nil, appErrors.ErrNotFound
	}
	if strings.TrimSpace(edit.Reason) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}
	parsed, err := e.Parse(changes)
	if err != nil {
		return nil, err
	}

	before := *trip
	diff := Diff(trip, parsed)
	for _, change := range parsed {
		change.Field.Assign(trip, change.Value)
	}

	previous, err := snapshotTrip(&before)
	if err != nil {
		return nil, err
	}

	if err := e.trips.UpdateTx(ctx, tx, trip); err != nil {
		return nil, err
	}

	next, err := snapshotTrip(trip)
	if err != nil {
		return nil, err
	}
	entry := &models.HistoryEntry{
		TripID:          trip.ID,
		MaChuyen:        trip.MaChuyen,
		Source:          edit.Source,
		RequestID:       edit.RequestID,
		RequestedBy:     edit.RequestedBy,
		RequestedByName: edit.RequestedByName,
		ApprovedBy:      edit.ApprovedBy,
		ApprovedByName:  edit.ApprovedByName,
		Reason:          strings.TrimSpace(edit.Reason),
		PreviousData:    previous,
		NewData:         next,
		ChangedFields:   diff,
	}
	if err := e.history.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	return &TripEditResult{Before: &before, After: trip, ChangedFields: diff, History: entry}, nil
}

func snapshotTrip(trip *models.Trip) (models.JSONDocument, error) {
	payload, err := json.Marshal(trip)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to snapshot trip")
	}
	return models.JSONDocument(payload), nil
}

func parseFieldValue(field models.TripField, raw json.RawMessage, loc *time.Location) (models.FieldValue, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.FieldValue{}, nil
	}

	var asString string
	isString := json.Unmarshal(raw, &asString) == nil
	if !isString {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return models.FieldValue{}, err
		}
		switch typed := v.(type) {
		case json.Number:
			asString = typed.String()
		case bool:
			asString = strconv.FormatBool(typed)
		default:
			return models.FieldValue{}, fmt.Errorf("expected a scalar value")
		}
	}
	return ParseFieldText(field, asString, loc)
}

// ParseFieldText parses the textual form of a field value, as found in JSON
// strings and spreadsheet cells.
func ParseFieldText(field models.TripField, text string, loc *time.Location) (models.FieldValue, error) {
	text = strings.TrimSpace(text)
	switch field.Kind {
	case models.FieldKindMoney:
		if text == "" {
			return models.FieldValue{Money: decimal.Zero}, nil
		}
		amount, err := decimal.NewFromString(strings.NewReplacer(",", "", " ", "").Replace(text))
		if err != nil {
			return models.FieldValue{}, fmt.Errorf("%q is not a number", text)
		}
		if amount.IsNegative() {
			return models.FieldValue{}, fmt.Errorf("amount must not be negative")
		}
		return models.FieldValue{Money: amount}, nil
	case models.FieldKindDate:
		if text == "" {
			return models.FieldValue{}, nil
		}
		day, err := parseDay(text, loc)
		if err != nil {
			return models.FieldValue{}, err
		}
		return models.FieldValue{Date: &day}, nil
	case models.FieldKindBool:
		if text == "" {
			return models.FieldValue{}, nil
		}
		flag, err := strconv.ParseBool(strings.ToLower(text))
		if err != nil {
			return models.FieldValue{}, fmt.Errorf("%q is not a boolean", text)
		}
		return models.FieldValue{Bool: flag}, nil
	default:
		return models.FieldValue{Text: text}, nil
	}
}

var dayLayouts = []string{models.DateLayout, "02/01/2006", "2/1/2006"}

// parseDay returns the calendar day as UTC midnight.
func parseDay(text string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if ts, err := time.Parse(time.RFC3339, text); err == nil {
		local := ts.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	for _, layout := range dayLayouts {
		if day, err := time.Parse(layout, text); err == nil {
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a date (expected YYYY-MM-DD)", text)
}
