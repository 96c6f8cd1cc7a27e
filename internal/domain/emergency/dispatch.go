package emergency

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/hospital"
	"github.com/carelink/carelink/internal/domain/notification"
	notify "github.com/carelink/carelink/internal/platform/notification"
)

// DefaultTopN is how many of the nearest hospitals receive a new alert.
const DefaultTopN = 3

// Notifier persists and pushes notifications. *notification.Service
// satisfies it.
type Notifier interface {
	Build(kind notify.Kind, recipientID string, hospitalID, alertID *uuid.UUID, data map[string]string) *notification.Notification
	BuildForHospital(kind notify.Kind, hospitalID uuid.UUID, alertID *uuid.UUID, data map[string]string) *notification.Notification
	CreateBatch(ctx context.Context, ns []*notification.Notification) error
	DeliverAll(ctx context.Context, ns []*notification.Notification) int
}

// Dispatcher fans a new alert out to the nearest hospitals. Dispatch runs
// inside the alert's transaction; Announce pushes the stored notifications
// once it has committed.
type Dispatcher struct {
	notifier Notifier
	topN     int
	logger   zerolog.Logger
}

func NewDispatcher(notifier Notifier, topN int, logger zerolog.Logger) *Dispatcher {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Dispatcher{notifier: notifier, topN: topN, logger: logger}
}

// Select returns the hospitals an alert is dispatched to: the first TopN of
// matches, which are already sorted by distance.
func (d *Dispatcher) Select(matches []hospital.HospitalResponse) []hospital.HospitalResponse {
	if len(matches) > d.topN {
		return matches[:d.topN]
	}
	return matches
}

// Dispatch records the selected hospitals on the alert and stores one
// pending notification for each. The caller persists the alert in the same
// transaction.
func (d *Dispatcher) Dispatch(ctx context.Context, a *Alert, matches []hospital.HospitalResponse) ([]*notification.Notification, error) {
	selected := d.Select(matches)
	if len(selected) == 0 {
		return nil, nil
	}

	alertID := a.ID
	ns := make([]*notification.Notification, 0, len(selected))
	for _, h := range selected {
		a.AddResponder(h.HospitalID)
		ns = append(ns, d.notifier.BuildForHospital(notify.KindEmergencyDispatch, h.HospitalID, &alertID, map[string]string{
			"severity":       string(a.SeverityLevel),
			"emergency_type": string(a.EmergencyType),
			"patient_name":   a.PatientName,
			"distance":       fmt.Sprintf("%.2f", h.Distance),
			"response_time":  h.ResponseTime,
			"address":        a.Address,
			"patient_phone":  a.PatientPhone,
		}))
	}
	if err := d.notifier.CreateBatch(ctx, ns); err != nil {
		return nil, fmt.Errorf("store dispatch notifications: %w", err)
	}
	return ns, nil
}

// Announce pushes dispatch notifications and returns how many reached a
// live subscriber. The rest stay pending for redelivery.
func (d *Dispatcher) Announce(ctx context.Context, a *Alert, ns []*notification.Notification) int {
	if len(ns) == 0 {
		return 0
	}
	delivered := d.notifier.DeliverAll(ctx, ns)
	d.logger.Info().
		Str("alert_id", a.ID.String()).
		Str("severity", string(a.SeverityLevel)).
		Int("hospitals", len(ns)).
		Int("delivered", delivered).
		Msg("emergency dispatched")
	return delivered
}
