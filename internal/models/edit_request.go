package models

import "time"

// EditRequestStatus captures workflow states for trip edit requests.
type EditRequestStatus string

const (
	EditRequestPending  EditRequestStatus = "pending"
	EditRequestApproved EditRequestStatus = "approved"
	EditRequestRejected EditRequestStatus = "rejected"
)

// EditChannel identifies which desk submitted the request and therefore who may approve it.
type EditChannel string

const (
	EditChannelDispatcher EditChannel = "dieuVan"
	EditChannelAccountant EditChannel = "keToan"
)

// EditAction is the reviewer decision on a pending request.
type EditAction string

const (
	EditActionApprove EditAction = "approve"
	EditActionReject  EditAction = "reject"
)

// EditRequest stores a proposed change to one trip awaiting review.
type EditRequest struct {
	ID              string            `db:"id" json:"id"`
	TripID          string            `db:"trip_id" json:"rideID"`
	MaChuyen        string            `db:"ma_chuyen" json:"maChuyen"`
	Channel         EditChannel       `db:"channel" json:"channel"`
	RequestedBy     string            `db:"requested_by" json:"requestedBy"`
	RequestedByName string            `db:"requested_by_name" json:"requestedByName"`
	Changes         ProposedChanges   `db:"changes" json:"changes"`
	Reason          string            `db:"reason" json:"reason"`
	Status          EditRequestStatus `db:"status" json:"status"`
	RejectNote      *string           `db:"reject_note" json:"rejectNote,omitempty"`
	ChangedFields   FieldChanges      `db:"changed_fields" json:"changedFields"`
	ProcessedBy     *string           `db:"processed_by" json:"processedBy,omitempty"`
	ProcessedByName *string           `db:"processed_by_name" json:"processedByName,omitempty"`
	ProcessedAt     *time.Time        `db:"processed_at" json:"processedAt,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
}

// IsPending reports whether the request can still be processed or cancelled.
func (r *EditRequest) IsPending() bool {
	return r != nil && r.Status == EditRequestPending
}

// EditRequestFilter constrains request listings.
type EditRequestFilter struct {
	Status      []EditRequestStatus
	Channel     EditChannel
	TripID      string
	MaChuyen    string
	RequestedBy string
	Page        int
	Limit       int
}
