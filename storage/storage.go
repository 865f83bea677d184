package storage

import (
	"context"
	"errors"

	"github.com/songzhibin97/clinic-intake/types"
)

// Errors
var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotTaken           = errors.New("slot already claimed")
)

// Storage persists appointments and the slot claims that keep bookings
// exclusive. A slot is held by at most one appointment at a time.
type Storage interface {
	// SaveAppointment inserts or replaces an appointment. First insertion
	// fixes its position in ListAppointments.
	SaveAppointment(ctx context.Context, appt types.Appointment) error

	// GetAppointment retrieves an appointment by ID.
	GetAppointment(ctx context.Context, id string) (types.Appointment, error)

	// ListAppointments returns all appointments in insertion order.
	ListAppointments(ctx context.Context) ([]types.Appointment, error)

	// ClaimSlot records apptID as the holder of slot. It fails with
	// ErrSlotTaken when another appointment holds it; reclaiming by the
	// current holder succeeds.
	ClaimSlot(ctx context.Context, slot types.Slot, apptID string) error

	// ReleaseSlot frees slot if apptID holds it.
	ReleaseSlot(ctx context.Context, slot types.Slot, apptID string) error

	// TakenSlots returns the claimed time labels for a practitioner on date.
	TakenSlots(ctx context.Context, practitionerID, date string) ([]string, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
