package models

import "time"

// SessionStatus is the server-side status of a spectator session.
type SessionStatus string

const (
	SessionWatching       SessionStatus = "watching"
	SessionRejoinPending  SessionStatus = "rejoinPending"
	SessionRejoinApproved SessionStatus = "rejoinApproved"
	SessionRejoinRejected SessionStatus = "rejoinRejected"
	SessionEnded          SessionStatus = "ended"
)

// InviteMode controls who may see the invite.
type InviteMode string

const (
	InvitePrivate InviteMode = "private"
	InvitePublic  InviteMode = "public"
)

// RequestStatus is the lifecycle of a single rejoin request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// RequestSource tells whether the viewer asked or the client asked on their behalf.
type RequestSource string

const (
	SourceManual RequestSource = "manual"
	SourceAuto   RequestSource = "auto"
)

// Valid reports whether s is a known source.
func (s RequestSource) Valid() bool {
	return s == SourceManual || s == SourceAuto
}

// RejoinRequest is a viewer's ask to take a seat again.
type RejoinRequest struct {
	Status     RequestStatus `json:"status"`
	Source     RequestSource `json:"source"`
	CreatedAt  time.Time     `json:"createdAt"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
	ResolvedBy string        `json:"resolvedBy,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// SpectatorSession exists for each viewer-join event.
type SpectatorSession struct {
	ID            string         `json:"id"`
	RoomID        string         `json:"roomId"`
	ViewerUID     string         `json:"viewerUid"`
	ViewerName    string         `json:"viewerName"`
	InviteID      string         `json:"inviteId"`
	Status        SessionStatus  `json:"status"`
	Mode          InviteMode     `json:"mode"`
	RejoinRequest *RejoinRequest `json:"rejoinRequest,omitempty"`
	LastRequestAt *time.Time     `json:"lastRequestAt,omitempty"`
	EndedReason   string         `json:"endedReason,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// InviteFlags are optional switches on an invite.
type InviteFlags struct {
	AllowRejoin bool `json:"allowRejoin"`
}

// SpectatorInvite is consumed to open a SpectatorSession.
type SpectatorInvite struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"roomId"`
	CreatedBy string      `json:"createdBy"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
	MaxUses   int         `json:"maxUses"`
	UsedCount int         `json:"usedCount"`
	Mode      InviteMode  `json:"mode"`
	Flags     InviteFlags `json:"flags"`
}
