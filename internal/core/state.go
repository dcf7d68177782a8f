package core

import "github.com/zenith-app/calls/internal/domain"

// ConnectionStatus is the single aggregate value the UI renders; it is
// derived from the most significant transition observed, not per-peer.
type ConnectionStatus string

const (
	StatusIdle         ConnectionStatus = "idle"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusFailed       ConnectionStatus = "failed"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// ParticipantView is a read-only view for the UI (no transport fields).
type ParticipantView struct {
	UserID  domain.UserID `json:"userId"`
	IsMicOn bool          `json:"isMicOn"`
	Peered  bool          `json:"peered"`
}

// CallState is the snapshot pushed to the Call UI on every change.
type CallState struct {
	Status       ConnectionStatus  `json:"connectionStatus"`
	SessionID    domain.SessionID  `json:"sessionId,omitempty"`
	SelfID       domain.UserID     `json:"selfId,omitempty"`
	IsMicOn      bool              `json:"isMicOn"`
	Participants []ParticipantView `json:"participants"`
	Error        string            `json:"error,omitempty"`
}
