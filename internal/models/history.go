package models

import "time"

// HistorySource tells which path produced a history entry.
type HistorySource string

const (
	HistorySourceDirect   HistorySource = "direct"
	HistorySourceApproval HistorySource = "approval"
)

// HistoryEntry is an immutable before/after snapshot pair of a trip edit.
type HistoryEntry struct {
	ID              string        `db:"id" json:"id"`
	TripID          string        `db:"trip_id" json:"rideID"`
	MaChuyen        string        `db:"ma_chuyen" json:"maChuyen"`
	Source          HistorySource `db:"source" json:"source"`
	RequestID       *string       `db:"request_id" json:"requestID,omitempty"`
	RequestedBy     string        `db:"requested_by" json:"requestedBy"`
	RequestedByName string        `db:"requested_by_name" json:"requestedByName"`
	ApprovedBy      *string       `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedByName  *string       `db:"approved_by_name" json:"approvedByName,omitempty"`
	Reason          string        `db:"reason" json:"reason"`
	PreviousData    JSONDocument  `db:"previous_data" json:"previousData"`
	NewData         JSONDocument  `db:"new_data" json:"newData"`
	ChangedFields   FieldChanges  `db:"changed_fields" json:"changedFields"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
}
