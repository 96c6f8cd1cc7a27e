package websocket

import "strings"

// Principal is who a connection belongs to.
type Principal struct {
	UserID     string
	Roles      []string
	HospitalID string
}

func (p Principal) has(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authorizer decides whether a principal may subscribe to a topic.
type Authorizer func(p Principal, topic string) bool

// AllowAll lets every principal subscribe to every topic.
func AllowAll(Principal, string) bool { return true }

// Topic names.
const (
	TopicAlertsDoctors   = "alerts.doctors"
	TopicAlertsHospitals = "alerts.hospitals"
)

func TopicAlertsPatient(patientID string) string   { return "alerts.patient." + patientID }
func TopicAlertsHospital(hospitalID string) string { return "alerts.hospital." + hospitalID }
func TopicNotifications(userID string) string      { return "notifications." + userID }
func TopicCalls(userID string) string              { return "calls." + userID }
func TopicMessages(userID string) string           { return "messages." + userID }
func TopicQueue(hospitalID string) string          { return "queue." + hospitalID }

// userScoped prefixes are private to the user whose id follows the prefix.
var userScoped = []string{"alerts.patient.", "notifications.", "calls.", "messages."}

// RoleAuthorizer is the production policy:
//   - alerts.doctors: doctors
//   - alerts.hospitals: hospital accounts
//   - alerts.hospital.<id> and queue.<id>: the hospital account acting for <id>
//   - alerts.patient.<id>, notifications.<id>, calls.<id>, messages.<id>: user <id>
//
// Admins may subscribe to anything. Unknown topics are refused.
func RoleAuthorizer(p Principal, topic string) bool {
	if p.UserID == "" {
		return false
	}
	if p.has("admin") {
		return true
	}

	switch topic {
	case TopicAlertsDoctors:
		return p.has("doctor")
	case TopicAlertsHospitals:
		return p.has("hospital")
	}

	for _, prefix := range userScoped {
		if id, ok := strings.CutPrefix(topic, prefix); ok {
			return id != "" && id == p.UserID
		}
	}

	for _, prefix := range []string{"alerts.hospital.", "queue."} {
		if id, ok := strings.CutPrefix(topic, prefix); ok {
			return p.has("hospital") && id != "" && id == p.HospitalID
		}
	}
	return false
}
