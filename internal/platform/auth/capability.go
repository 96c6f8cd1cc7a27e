package auth

import "sort"

const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RoleHospital = "hospital"
	RoleAdmin    = "admin"
)

// Capabilities checked by handlers through RequireCapability.
const (
	CapAlertTrigger        = "alert.trigger"
	CapAlertCancel         = "alert.cancel"
	CapAlertReadOwn        = "alert.read.own"
	CapAlertReadActive     = "alert.read.active"
	CapAlertReadDispatched = "alert.read.dispatched"
	CapAlertRespond        = "alert.respond"
	CapCallPlace           = "call.place"
	CapCallAnswer          = "call.answer"
	CapBedManage           = "bed.manage"
	CapBookingRequest      = "booking.request"
	CapBookingReview       = "booking.review"
	CapQueueJoin           = "queue.join"
	CapQueueManage         = "queue.manage"
	CapAppointmentRequest  = "appointment.request"
	CapAppointmentManage   = "appointment.manage"
	CapPrescriptionReadOwn = "prescription.read.own"
	CapPrescriptionWrite   = "prescription.write"
	CapStaffRead           = "staff.read"
	CapStaffManage         = "staff.manage"
	CapMessageSend         = "message.send"
	CapMoodWrite           = "mood.write"
	CapAIAsk               = "ai.ask"
	CapUploadCreate        = "upload.create"
	CapHospitalSearch      = "hospital.search"
	CapHospitalProfile     = "hospital.profile.write"
	CapNotificationRead    = "notification.read"
	CapReportRead          = "report.read"
)

var capabilities = map[string]map[string]bool{
	RolePatient: set(
		CapAlertTrigger, CapAlertCancel, CapAlertReadOwn,
		CapCallPlace, CapCallAnswer,
		CapBookingRequest, CapQueueJoin, CapAppointmentRequest,
		CapPrescriptionReadOwn, CapMessageSend, CapMoodWrite,
		CapAIAsk, CapUploadCreate, CapHospitalSearch,
	),
	RoleDoctor: set(
		CapAlertReadActive, CapAlertRespond,
		CapCallPlace, CapCallAnswer,
		CapAppointmentManage, CapPrescriptionWrite,
		CapMessageSend, CapAIAsk, CapUploadCreate, CapHospitalSearch,
		CapStaffRead,
	),
	RoleHospital: set(
		CapAlertReadDispatched, CapAlertRespond,
		CapBedManage, CapBookingReview, CapQueueManage,
		CapStaffManage, CapStaffRead, CapNotificationRead, CapHospitalProfile,
		CapUploadCreate, CapHospitalSearch, CapReportRead,
	),
}

func set(actions ...string) map[string]bool {
	m := make(map[string]bool, len(actions))
	for _, a := range actions {
		m[a] = true
	}
	return m
}

// Can reports whether role may perform action. Admin may do everything.
func Can(role, action string) bool {
	if role == RoleAdmin {
		return true
	}
	return capabilities[role][action]
}

// CanAny reports whether any of roles may perform action.
func CanAny(roles []string, action string) bool {
	for _, r := range roles {
		if Can(r, action) {
			return true
		}
	}
	return false
}

// Capabilities lists the actions granted to role, sorted.
func Capabilities(role string) []string {
	if role == RoleAdmin {
		var all []string
		seen := make(map[string]bool)
		for _, caps := range capabilities {
			for a := range caps {
				if !seen[a] {
					seen[a] = true
					all = append(all, a)
				}
			}
		}
		sort.Strings(all)
		return all
	}
	out := make([]string, 0, len(capabilities[role]))
	for a := range capabilities[role] {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RolePatient, RoleDoctor, RoleHospital, RoleAdmin:
		return true
	}
	return false
}
