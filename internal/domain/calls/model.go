package calls

import (
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/carelink/carelink/pkg/apperr"
)

const (
	StatusInitiating = "initiating"
	StatusRinging    = "ringing"
	StatusConnected  = "connected"
	StatusDeclined   = "declined"
	StatusMissed     = "missed"
	StatusEnded      = "ended"
)

const (
	TypeAudio = "audio"
	TypeVideo = "video"
)

// End reasons recorded on the call.
const (
	ReasonHangup    = "hangup"
	ReasonCancelled = "cancelled"
	ReasonDeclined  = "declined"
	ReasonNoAnswer  = "no_answer"
)

// Ringing calls may also end directly when the caller hangs up first.
var transitions = map[string]map[string]bool{
	StatusInitiating: {StatusRinging: true, StatusEnded: true},
	StatusRinging:    {StatusConnected: true, StatusDeclined: true, StatusMissed: true, StatusEnded: true},
	StatusConnected:  {StatusEnded: true},
	StatusDeclined:   {StatusEnded: true},
	StatusMissed:     {StatusEnded: true},
}

func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// Call maps to the calls table.
type Call struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	CallerID        string     `db:"caller_id" json:"caller_id"`
	CallerName      string     `db:"caller_name" json:"caller_name"`
	CalleeID        string     `db:"callee_id" json:"callee_id"`
	CalleeName      string     `db:"callee_name" json:"callee_name"`
	CallType        string     `db:"call_type" json:"call_type"`
	Status          string     `db:"status" json:"status"`
	OfferSDP        string     `db:"offer_sdp" json:"offer_sdp,omitempty"`
	AnswerSDP       string     `db:"answer_sdp" json:"answer_sdp,omitempty"`
	EndReason       *string    `db:"end_reason" json:"end_reason,omitempty"`
	RingingAt       *time.Time `db:"ringing_at" json:"ringing_at,omitempty"`
	ConnectedAt     *time.Time `db:"connected_at" json:"connected_at,omitempty"`
	EndedAt         *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	DurationSeconds *int       `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (c *Call) Participant(userID string) bool {
	return userID != "" && (c.CallerID == userID || c.CalleeID == userID)
}

// Peer returns the other participant.
func (c *Call) Peer(userID string) string {
	if c.CallerID == userID {
		return c.CalleeID
	}
	return c.CallerID
}

type PlaceRequest struct {
	CalleeID string `json:"callee_id"`
	CallType string `json:"call_type"`
	OfferSDP string `json:"offer_sdp"`
}

// validateSDP parses a session description of the given type and requires
// at least one media section.
func validateSDP(kind webrtc.SDPType, raw string) error {
	if raw == "" {
		return apperr.Invalidf("%s sdp is required", kind)
	}
	desc := webrtc.SessionDescription{Type: kind, SDP: raw}
	parsed, err := desc.Unmarshal()
	if err != nil {
		return apperr.Invalidf("invalid %s sdp: %v", kind, err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return apperr.Invalidf("%s sdp has no media sections", kind)
	}
	return nil
}
