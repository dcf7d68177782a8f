package domain

import "time"

// CallStatus is the lifecycle state of a 1:1 personal call.
// Keep values stable: they are written into the shared call record.
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallConnected CallStatus = "connected"
	CallDeclined  CallStatus = "declined"
	CallNoAnswer  CallStatus = "no_answer"
	CallEnded     CallStatus = "ended"
)

// Terminal reports whether the status admits no further transitions.
func (s CallStatus) Terminal() bool {
	return s == CallDeclined || s == CallNoAnswer || s == CallEnded
}

// CallRecord is the out-of-band record a 1:1 call is coordinated through.
// Both parties write to it; last writer wins.
type CallRecord struct {
	CallID         string     `json:"callId" bson:"callId"`
	ConversationID string     `json:"conversationId" bson:"_id"`
	CallerID       UserID     `json:"callerId" bson:"callerId"`
	CalleeID       UserID     `json:"calleeId" bson:"calleeId"`
	Status         CallStatus `json:"callStatus" bson:"callStatus"`
	StartedAt      time.Time  `json:"startedAt" bson:"startedAt"`
	ConnectedAt    *time.Time `json:"connectedAt,omitempty" bson:"connectedAt,omitempty"`
	DurationSec    *int       `json:"callDuration,omitempty" bson:"callDuration,omitempty"`
	Text           string     `json:"text" bson:"text"`
}
