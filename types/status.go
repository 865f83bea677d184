package types

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusPending     AppointmentStatus = "Pending"
	StatusConfirmed   AppointmentStatus = "Confirmed"
	StatusRescheduled AppointmentStatus = "Rescheduled"
	StatusCancelled   AppointmentStatus = "Cancelled"
)

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:     {StatusConfirmed, StatusCancelled},
	StatusConfirmed:   {StatusRescheduled, StatusCancelled},
	StatusRescheduled: {StatusRescheduled, StatusCancelled},
	// Cancelled is terminal.
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus maps a status name to an AppointmentStatus.
func ParseStatus(s string) (AppointmentStatus, bool) {
	switch AppointmentStatus(s) {
	case StatusPending, StatusConfirmed, StatusRescheduled, StatusCancelled:
		return AppointmentStatus(s), true
	}
	return "", false
}
