package models

import "time"

// Principal is an authenticated user as seen by the delivery core.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	TrustScore  int    `json:"trust_score"`
}

// Profile is the stored form of a principal.
type Profile struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	FullName   string    `json:"full_name"`
	AvatarURL  *string   `json:"avatar_url,omitempty"`
	TrustScore int       `json:"trust_score"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Principal projects the profile into the core's principal shape.
func (p *Profile) Principal() Principal {
	name := p.FullName
	if name == "" {
		name = p.Username
	}
	return Principal{ID: p.ID, DisplayName: name, TrustScore: p.TrustScore}
}

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "PENDING"
	FriendshipAccepted FriendshipStatus = "ACCEPTED"
	FriendshipRejected FriendshipStatus = "REJECTED"
)

// Friendship is a trust edge. Directed while PENDING, undirected once ACCEPTED.
type Friendship struct {
	ID          string           `json:"id"`
	RequesterID string           `json:"requester_id"`
	ReceiverID  string           `json:"receiver_id"`
	Status      FriendshipStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Other returns the party of f that is not principalID.
func (f *Friendship) Other(principalID string) string {
	if f.RequesterID == principalID {
		return f.ReceiverID
	}
	return f.RequesterID
}

// Involves reports whether principalID is either party of f.
func (f *Friendship) Involves(principalID string) bool {
	return f.RequesterID == principalID || f.ReceiverID == principalID
}

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// FriendView is a friendship from one principal's point of view.
type FriendView struct {
	FriendshipID string           `json:"friendship_id"`
	Status       FriendshipStatus `json:"status"`
	Direction    string           `json:"direction"`
	Friend       *Profile         `json:"friend"`
	CreatedAt    time.Time        `json:"created_at"`
}

type FriendRequestInput struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
}

type RespondFriendRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

// UpdateProfileInput edits the caller's own profile. Nil fields are left unchanged.
type UpdateProfileInput struct {
	Username  *string `json:"username,omitempty" validate:"omitempty,min=2,max=32"`
	FullName  *string `json:"full_name,omitempty" validate:"omitempty,max=100"`
	AvatarURL *string `json:"avatar_url,omitempty" validate:"omitempty,url"`
}
