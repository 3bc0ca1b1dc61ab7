package dto

import (
	"github.com/noah-isme/fleet-trip-api/internal/models"
)

// SubmitEditRequest payload for proposing changes to a trip.
type SubmitEditRequest struct {
	RideID  string                 `json:"rideID"`
	Changes models.ProposedChanges `json:"changes"`
	Reason  string                 `json:"reason"`
}

// ProcessEditRequest captures the reviewer decision.
type ProcessEditRequest struct {
	RequestID string `json:"requestID"`
	Action    string `json:"action"`
	Note      string `json:"note"`
}

// EditRequestQuery mirrors supported listing filters. Status accepts a comma separated list.
type EditRequestQuery struct {
	Status   string `form:"status"`
	Channel  string `form:"channel"`
	RideID   string `form:"rideID"`
	MaChuyen string `form:"maChuyen"`
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
}
