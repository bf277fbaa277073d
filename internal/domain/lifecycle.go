package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Transition errors returned by the pure lifecycle rules. The service layer maps
// them onto typed application errors.
var (
	ErrNotReceiver    = errors.New("actor is not the receiver")
	ErrNotCaller      = errors.New("actor is not the caller")
	ErrNotParticipant = errors.New("actor is not a participant")
	ErrNotRinging     = errors.New("call is not ringing")
	ErrNotActive      = errors.New("call is not active")
	ErrOfferMissing   = errors.New("offer has not been submitted")
)

// Lookup errors returned by repositories
var (
	ErrCallNotFound = errors.New("call not found")
	ErrUserNotFound = errors.New("user not found")
)

// CanTransition reports whether from -> to is a legal lifecycle edge
func CanTransition(from, to CallStatus) bool {
	switch from {
	case CallStatusRinging:
		return to == CallStatusConnected || to == CallStatusRejected || to == CallStatusEnded
	case CallStatusConnected:
		return to == CallStatusEnded
	}
	return false
}

// TerminalStatusFor returns the state a call lands in when terminated from status
func TerminalStatusFor(status CallStatus) CallStatus {
	if status == CallStatusConnected {
		return CallStatusEnded
	}
	return CallStatusRejected
}

// ApplyAccept moves a ringing call to connected for its receiver. A caller
// accepting its own call is a wrong-role write and reports ErrNotReceiver.
func ApplyAccept(c *Call, actor uuid.UUID, now time.Time) error {
	if !c.IsParticipant(actor) {
		return ErrNotParticipant
	}
	if actor != c.ReceiverID {
		return ErrNotReceiver
	}
	if c.Status != CallStatusRinging {
		return ErrNotRinging
	}
	c.Status = CallStatusConnected
	c.AnsweredAt = &now
	c.UpdatedAt = now
	return nil
}

// ApplyTerminate ends an active call. It returns changed=false when the call is
// already terminal, in which case c is left untouched.
func ApplyTerminate(c *Call, actor uuid.UUID, reason string, now time.Time) (bool, error) {
	if !c.IsParticipant(actor) {
		return false, ErrNotParticipant
	}
	if c.Status.IsTerminal() {
		return false, nil
	}

	next := TerminalStatusFor(c.Status)
	if reason == "" {
		reason = EndReasonHangup
		if next == CallStatusRejected {
			reason = EndReasonDeclined
		}
	}

	c.Status = next
	c.EndedAt = &now
	c.UpdatedAt = now
	c.EndedBy = &actor
	c.EndReason = reason
	if c.AnsweredAt != nil {
		d := int(now.Sub(*c.AnsweredAt).Seconds())
		if d < 0 {
			d = 0
		}
		c.Duration = &d
	}
	return true, nil
}

// ApplyOffer overwrites the caller's offer and bumps its version
func ApplyOffer(c *Call, submitter uuid.UUID, payload string, now time.Time) error {
	if !c.IsParticipant(submitter) {
		return ErrNotParticipant
	}
	if submitter != c.CallerID {
		return ErrNotCaller
	}
	if c.Status != CallStatusRinging {
		return ErrNotRinging
	}
	c.Offer = payload
	c.OfferVersion++
	c.UpdatedAt = now
	return nil
}

// ApplyAnswer overwrites the receiver's answer and bumps its version
func ApplyAnswer(c *Call, submitter uuid.UUID, payload string, now time.Time) error {
	if !c.IsParticipant(submitter) {
		return ErrNotParticipant
	}
	if submitter != c.ReceiverID {
		return ErrNotReceiver
	}
	if !c.HasOffer() {
		return ErrOfferMissing
	}
	if !c.Status.IsActive() {
		return ErrNotActive
	}
	c.Answer = payload
	c.AnswerVersion++
	c.UpdatedAt = now
	return nil
}

// CheckCandidateAppend validates that contributor may append to the call's log
func CheckCandidateAppend(c *Call, contributor uuid.UUID) error {
	if !c.IsParticipant(contributor) {
		return ErrNotParticipant
	}
	if !c.Status.IsActive() {
		return ErrNotActive
	}
	return nil
}
