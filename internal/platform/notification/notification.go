// Package notification renders the user-facing text of CareLink notifications
// from named templates. Persistence and delivery live in domain/notification.
package notification

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind identifies what a notification is about. It doubles as the template ID.
type Kind string

const (
	KindEmergencyDispatch  Kind = "emergency_dispatch"
	KindAlertResponded     Kind = "alert_responded"
	KindAlertResolved      Kind = "alert_resolved"
	KindAlertCancelled     Kind = "alert_cancelled"
	KindBookingApproved    Kind = "bed_booking_approved"
	KindBookingRejected    Kind = "bed_booking_rejected"
	KindQueueCalled        Kind = "queue_called"
	KindAppointmentUpdated Kind = "appointment_updated"
	KindPrescriptionIssued Kind = "prescription_issued"
	KindMissedCall         Kind = "missed_call"
	KindStaleAlert         Kind = "stale_alert"
)

// Template defines a reusable notification template.
type Template struct {
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[Kind]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			Kind:  KindEmergencyDispatch,
			Title: "{{severity}} emergency: {{emergency_type}}",
			Body:  "{{patient_name}} needs help {{distance}} km away ({{response_time}}). Location: {{address}}. Call {{patient_phone}}.",
		},
		{
			Kind:  KindAlertResponded,
			Title: "Help is on the way",
			Body:  "{{hospital_name}} is responding to your emergency. ETA {{eta}} minutes.",
		},
		{
			Kind:  KindAlertResolved,
			Title: "Emergency resolved",
			Body:  "Your {{emergency_type}} alert has been marked resolved.",
		},
		{
			Kind:  KindAlertCancelled,
			Title: "Emergency cancelled",
			Body:  "{{patient_name}} cancelled the {{emergency_type}} alert.",
		},
		{
			Kind:  KindBookingApproved,
			Title: "Bed booking approved",
			Body:  "{{hospital_name}} approved your request. Ward {{ward}}, bed {{bed_number}}.",
		},
		{
			Kind:  KindBookingRejected,
			Title: "Bed booking declined",
			Body:  "{{hospital_name}} could not accept your bed request.",
		},
		{
			Kind:  KindQueueCalled,
			Title: "It's your turn",
			Body:  "Token {{queue_number}} is being called at {{department}}.",
		},
		{
			Kind:  KindAppointmentUpdated,
			Title: "Appointment {{status}}",
			Body:  "Your appointment with {{doctor_name}} on {{date}} is now {{status}}.",
		},
		{
			Kind:  KindPrescriptionIssued,
			Title: "New prescription",
			Body:  "{{doctor_name}} issued a prescription for {{diagnosis}}.",
		},
		{
			Kind:  KindMissedCall,
			Title: "Missed call",
			Body:  "You missed a {{call_type}} call from {{caller_name}}.",
		},
		{
			Kind:  KindStaleAlert,
			Title: "Unanswered emergency",
			Body:  "A {{severity}} {{emergency_type}} alert has had no response for {{minutes}} minutes.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.Kind] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Kind] = &t
}

// Kinds lists the registered template kinds in sorted order.
func (e *TemplateEngine) Kinds() []Kind {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Kind, 0, len(e.templates))
	for k := range e.templates {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Render performs {{key}} replacement on the template for kind. Keys present
// in the template but absent from data are left as-is.
func (e *TemplateEngine) Render(kind Kind, data map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[kind]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", kind)
	}

	title = t.Title
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}

// MustRender is Render for built-in kinds, falling back to the kind name.
func (e *TemplateEngine) MustRender(kind Kind, data map[string]string) (title, body string) {
	title, body, err := e.Render(kind, data)
	if err != nil {
		return string(kind), ""
	}
	return title, body
}
