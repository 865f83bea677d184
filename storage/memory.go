package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/clinic-intake/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	appointments map[string]types.Appointment
	order        []string
	slots        map[types.Slot]string // slot -> holding appointment id
	mu           sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		appointments: make(map[string]types.Appointment),
		slots:        make(map[types.Slot]string),
	}
}

// getItem is a standalone generic helper function.
func getItem[K comparable, T any](ctx context.Context, mu *sync.RWMutex, m map[K]T, id K, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%v", errNotFound, id)
		}
		return item, nil
	})
}

// SaveAppointment saves an appointment to memory.
func (s *MemoryStorage) SaveAppointment(ctx context.Context, appt types.Appointment) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.appointments[appt.ID]; !ok {
			s.order = append(s.order, appt.ID)
		}
		s.appointments[appt.ID] = appt
		return nil
	})
}

// GetAppointment retrieves an appointment from memory.
func (s *MemoryStorage) GetAppointment(ctx context.Context, id string) (types.Appointment, error) {
	return getItem(ctx, &s.mu, s.appointments, id, ErrAppointmentNotFound)
}

// ListAppointments returns every stored appointment in insertion order.
func (s *MemoryStorage) ListAppointments(ctx context.Context) ([]types.Appointment, error) {
	return withContext(ctx, func() ([]types.Appointment, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.Appointment, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, s.appointments[id])
		}
		return out, nil
	})
}

// ClaimSlot marks slot as held by apptID.
func (s *MemoryStorage) ClaimSlot(ctx context.Context, slot types.Slot, apptID string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if holder, ok := s.slots[slot]; ok && holder != apptID {
			return fmt.Errorf("%w: %s %s %s held by %s", ErrSlotTaken, slot.PractitionerID, slot.Date, slot.Time, holder)
		}
		s.slots[slot] = apptID
		return nil
	})
}

// ReleaseSlot frees slot when apptID holds it.
func (s *MemoryStorage) ReleaseSlot(ctx context.Context, slot types.Slot, apptID string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.slots[slot] == apptID {
			delete(s.slots, slot)
		}
		return nil
	})
}

// TakenSlots lists the claimed times for practitionerID on date, sorted.
func (s *MemoryStorage) TakenSlots(ctx context.Context, practitionerID, date string) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var taken []string
		for slot := range s.slots {
			if slot.PractitionerID == practitionerID && slot.Date == date {
				taken = append(taken, slot.Time)
			}
		}
		sort.Strings(taken)
		return taken, nil
	})
}
