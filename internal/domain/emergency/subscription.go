package emergency

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carelink/carelink/internal/platform/websocket"
	"github.com/carelink/carelink/pkg/apperr"
)

// Audience selects which alert feed a subscriber follows.
type Audience string

const (
	AudienceDoctors   Audience = "doctors"
	AudienceHospitals Audience = "hospitals"
)

const (
	subscriptionBuffer = 64
	snapshotLimit      = 200
)

func (a Audience) Valid() bool {
	return a == AudienceDoctors || a == AudienceHospitals
}

func (a Audience) topic() string {
	if a == AudienceDoctors {
		return websocket.TopicAlertsDoctors
	}
	return websocket.TopicAlertsHospitals
}

// statuses are the alert statuses the audience's feed contains.
func (a Audience) statuses() []string {
	if a == AudienceDoctors {
		return []string{StatusActive}
	}
	return []string{StatusActive, StatusResponded}
}

func (a Audience) includes(status string) bool {
	for _, s := range a.statuses() {
		if s == status {
			return true
		}
	}
	return false
}

// AlertEvent is one item of a subscription stream. Removed is set when the
// alert has left the audience's feed, e.g. a doctor's view of an alert that
// a hospital just responded to.
type AlertEvent struct {
	Type    string `json:"type"`
	Alert   *Alert `json:"alert"`
	Removed bool   `json:"removed,omitempty"`
}

// Subscribe streams the audience's feed: first one "snapshot" event per
// matching alert, then live changes. A consumer that falls behind loses
// events instead of slowing producers. The channel closes when ctx ends.
func (s *Service) Subscribe(ctx context.Context, audience Audience) (<-chan AlertEvent, error) {
	if !audience.Valid() {
		return nil, apperr.Invalidf("unknown audience %q", audience)
	}
	if s.hub == nil {
		return nil, fmt.Errorf("realtime delivery is not configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	// Listen before loading the snapshot so no change falls between the two.
	live := s.hub.Listen(ctx, subscriptionBuffer, audience.topic())
	snapshot, _, err := s.repo.ListByStatus(ctx, audience.statuses(), snapshotLimit, 0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	out := make(chan AlertEvent, len(snapshot)+subscriptionBuffer)
	for _, a := range snapshot {
		out <- AlertEvent{Type: "snapshot", Alert: a}
	}

	go func() {
		defer close(out)
		defer cancel()
		for ev := range live {
			var a Alert
			if err := json.Unmarshal(ev.Data, &a); err != nil {
				s.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("decode alert event")
				continue
			}
			select {
			case out <- AlertEvent{Type: ev.Type, Alert: &a, Removed: !audience.includes(a.Status)}:
			default:
				s.logger.Debug().Str("audience", string(audience)).Msg("alert subscriber behind, event dropped")
			}
		}
	}()
	return out, nil
}
