package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusEnded     CallStatus = "ended"
)

// IsActive reports whether the call still accepts signaling traffic
func (s CallStatus) IsActive() bool {
	return s == CallStatusRinging || s == CallStatusConnected
}

// IsTerminal reports whether no further transition is possible
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusRejected || s == CallStatusEnded
}

// MediaKind is fixed for the lifetime of a call
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// Valid reports whether the media kind is supported
func (m MediaKind) Valid() bool {
	return m == MediaKindAudio || m == MediaKindVideo
}

// Default end reasons recorded when the terminating peer does not supply one
const (
	EndReasonHangup   = "hangup"
	EndReasonDeclined = "declined"
)

// Call represents one call attempt between a caller and a receiver.
// Maps to CockroachDB calls table
type Call struct {
	CallID        uuid.UUID  `json:"call_id" db:"call_id"`
	CallerID      uuid.UUID  `json:"caller_id" db:"caller_id"`
	ReceiverID    uuid.UUID  `json:"receiver_id" db:"receiver_id"`
	MediaKind     MediaKind  `json:"media_kind" db:"media_kind"`
	Status        CallStatus `json:"status" db:"status"`
	Offer         string     `json:"offer,omitempty" db:"offer"`
	OfferVersion  int64      `json:"offer_version" db:"offer_version"`
	Answer        string     `json:"answer,omitempty" db:"answer"`
	AnswerVersion int64      `json:"answer_version" db:"answer_version"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	AnsweredAt    *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Duration      *int       `json:"duration,omitempty" db:"duration"` // in seconds
	EndedBy       *uuid.UUID `json:"ended_by,omitempty" db:"ended_by"`
	EndReason     string     `json:"end_reason,omitempty" db:"end_reason"`
}

// IsParticipant reports whether userID is the caller or the receiver
func (c *Call) IsParticipant(userID uuid.UUID) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}

// PeerOf returns the other party of the call for a participant
func (c *Call) PeerOf(userID uuid.UUID) uuid.UUID {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// HasOffer reports whether the caller has submitted an offer
func (c *Call) HasOffer() bool {
	return c.OfferVersion > 0
}

// Clone returns a deep copy so stored records are never aliased by callers
func (c *Call) Clone() *Call {
	cp := *c
	if c.AnsweredAt != nil {
		t := *c.AnsweredAt
		cp.AnsweredAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	if c.Duration != nil {
		d := *c.Duration
		cp.Duration = &d
	}
	if c.EndedBy != nil {
		id := *c.EndedBy
		cp.EndedBy = &id
	}
	return &cp
}

// ICECandidate is one entry of a call's append-only candidate log
type ICECandidate struct {
	CallID   uuid.UUID `json:"call_id" db:"call_id"`
	Sequence int64     `json:"sequence" db:"sequence"`
	OwnerID  uuid.UUID `json:"owner_id" db:"owner_id"`
	Payload  string    `json:"payload" db:"payload"`
	AddedAt  time.Time `json:"added_at" db:"added_at"`
}

// CandidateFilter narrows a candidate listing. The zero value returns the full log.
type CandidateFilter struct {
	AfterSequence int64
	ExcludeOwner  *uuid.UUID
}

// Match reports whether the candidate passes the filter
func (f CandidateFilter) Match(c *ICECandidate) bool {
	if c.Sequence <= f.AfterSequence {
		return false
	}
	if f.ExcludeOwner != nil && c.OwnerID == *f.ExcludeOwner {
		return false
	}
	return true
}

// SignalingState is the read view of a call's offer/answer slots
type SignalingState struct {
	CallID        uuid.UUID  `json:"call_id"`
	Status        CallStatus `json:"status"`
	Offer         string     `json:"offer,omitempty"`
	OfferVersion  int64      `json:"offer_version"`
	Answer        string     `json:"answer,omitempty"`
	AnswerVersion int64      `json:"answer_version"`
}

// Signaling extracts the offer/answer view of the call
func (c *Call) Signaling() *SignalingState {
	return &SignalingState{
		CallID:        c.CallID,
		Status:        c.Status,
		Offer:         c.Offer,
		OfferVersion:  c.OfferVersion,
		Answer:        c.Answer,
		AnswerVersion: c.AnswerVersion,
	}
}

// CallView is a call presented to one participant together with the peer's profile
type CallView struct {
	*Call
	Peer *UserProfile `json:"peer,omitempty"`
}
