package models

import "time"

// Status is the lifecycle state of a DeliveryRequest.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusPickedUp   Status = "PICKED_UP"
	StatusDelivering Status = "DELIVERING"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

const (
	DeliveryTypeWalker  = "walker"
	DeliveryTypeCyclist = "cyclist"

	BroadcastAllFriends = "all"

	DefaultWeightKg = 0.5
)

// Coords is an optional lat/lng pair attached to pickup or drop.
type Coords struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// DeliveryRequest is a friend-scoped package delivery request.
type DeliveryRequest struct {
	ID                 string    `json:"id"`
	SenderID           string    `json:"sender_id"`
	Item               string    `json:"item"`
	CourierName        *string   `json:"courier_name,omitempty"`
	ExternalTrackingID *string   `json:"external_tracking_id,omitempty"`
	WeightKg           float64   `json:"weight_kg"`
	IsFragile          bool      `json:"is_fragile"`
	PackagePhotoURL    *string   `json:"package_photo_url,omitempty"`
	Pickup             string    `json:"pickup"`
	DropLocation       string    `json:"drop_location"`
	PickupCoords       *Coords   `json:"pickup_coords,omitempty"`
	DropCoords         *Coords   `json:"drop_coords,omitempty"`
	DeliveryType       string    `json:"delivery_type"`
	Fare               float64   `json:"fare"`
	OTP                string    `json:"otp,omitempty"`
	BroadcastScope     string    `json:"broadcast_scope"`
	Status             Status    `json:"status"`
	PartnerID          *string   `json:"partner_id,omitempty"`
	PartnerName        *string   `json:"partner_name,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsPartner reports whether principalID is the assigned carrier.
func (r *DeliveryRequest) IsPartner(principalID string) bool {
	return r.PartnerID != nil && *r.PartnerID == principalID
}

// Redacted returns a copy without the OTP, for every viewer except the sender.
func (r *DeliveryRequest) Redacted() *DeliveryRequest {
	cp := *r
	cp.OTP = ""
	return &cp
}

// CreateRequestInput is the sender's payload for a new request. The fare is
// computed by the client's pricing step and taken as given.
type CreateRequestInput struct {
	ID                 string  `json:"id,omitempty" validate:"omitempty,max=64"`
	Item               string  `json:"item" validate:"required,max=200"`
	CourierName        *string `json:"courier_name,omitempty" validate:"omitempty,max=100"`
	ExternalTrackingID *string `json:"external_tracking_id,omitempty" validate:"omitempty,max=100"`
	WeightKg           float64 `json:"weight_kg" validate:"gte=0"`
	IsFragile          bool    `json:"is_fragile"`
	PackagePhotoURL    *string `json:"package_photo_url,omitempty" validate:"omitempty,url"`
	Pickup             string  `json:"pickup" validate:"required"`
	DropLocation       string  `json:"drop_location" validate:"required"`
	PickupCoords       *Coords `json:"pickup_coords,omitempty"`
	DropCoords         *Coords `json:"drop_coords,omitempty"`
	DeliveryType       string  `json:"delivery_type,omitempty" validate:"omitempty,oneof=walker cyclist"`
	Fare               float64 `json:"fare" validate:"gte=0"`
	OTP                string  `json:"otp,omitempty" validate:"omitempty,len=4,numeric"`
	BroadcastScope     string  `json:"broadcast_scope,omitempty" validate:"omitempty,max=32"`
}

// StatusUpdateRequest is the carrier's step forward after acceptance.
type StatusUpdateRequest struct {
	Status Status `json:"status" validate:"required,oneof=PICKED_UP DELIVERING"`
}

// VerifyOTPRequest carries the code read from the sender at handoff.
type VerifyOTPRequest struct {
	OTP string `json:"otp" validate:"required"`
}

// StatusFields are the extra columns a compare-and-swap may set with the status.
type StatusFields struct {
	PartnerID   *string
	PartnerName *string
}
