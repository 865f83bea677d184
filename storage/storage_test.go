package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/clinic-intake/types"
)

var bookedAt = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

// Helper function to create a sample appointment
func newAppointment(id, practitionerID, date, at string) types.Appointment {
	return types.Appointment{
		ID:               id,
		PractitionerID:   practitionerID,
		PractitionerName: "Dr. Sarah Johnson",
		Specialty:        "Cardiologist",
		Date:             date,
		Time:             at,
		Consultation:     "general",
		Status:           types.StatusConfirmed,
		BookedAt:         bookedAt,
		UpdatedAt:        bookedAt,
	}
}

// runStorageSuite checks behaviour every Storage implementation shares.
func runStorageSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("SaveAndGetAppointment", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		appt := newAppointment("APT-1", "doc-001", "2026-10-15", "09:00 AM")
		require.NoError(t, store.SaveAppointment(ctx, appt))

		got, err := store.GetAppointment(ctx, "APT-1")
		assert.NoError(t, err)
		assert.Equal(t, appt, got)

		_, err = store.GetAppointment(ctx, "APT-404")
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("ListKeepsInsertionOrder", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		list, err := store.ListAppointments(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		for _, id := range []string{"APT-3", "APT-1", "APT-2"} {
			require.NoError(t, store.SaveAppointment(ctx, newAppointment(id, "doc-001", "2026-10-15", "09:00 AM")))
			time.Sleep(time.Millisecond)
		}
		updated := newAppointment("APT-3", "doc-001", "2026-10-15", "09:00 AM")
		updated.Status = types.StatusCancelled
		require.NoError(t, store.SaveAppointment(ctx, updated))

		list, err = store.ListAppointments(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "APT-3", list[0].ID)
		assert.Equal(t, types.StatusCancelled, list[0].Status, "update replaces in place")
		assert.Equal(t, "APT-1", list[1].ID)
		assert.Equal(t, "APT-2", list[2].ID)
	})

	t.Run("ClaimAndRelease", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		slot := types.Slot{PractitionerID: "doc-001", Date: "2026-10-15", Time: "09:00 AM"}

		require.NoError(t, store.ClaimSlot(ctx, slot, "APT-1"))
		assert.NoError(t, store.ClaimSlot(ctx, slot, "APT-1"), "holder may reclaim")
		assert.ErrorIs(t, store.ClaimSlot(ctx, slot, "APT-2"), ErrSlotTaken)

		taken, err := store.TakenSlots(ctx, "doc-001", "2026-10-15")
		require.NoError(t, err)
		assert.Equal(t, []string{"09:00 AM"}, taken)

		require.NoError(t, store.ReleaseSlot(ctx, slot, "APT-2"), "non-holder release is a no-op")
		assert.ErrorIs(t, store.ClaimSlot(ctx, slot, "APT-2"), ErrSlotTaken)

		require.NoError(t, store.ReleaseSlot(ctx, slot, "APT-1"))
		taken, err = store.TakenSlots(ctx, "doc-001", "2026-10-15")
		require.NoError(t, err)
		assert.Empty(t, taken)
		assert.NoError(t, store.ClaimSlot(ctx, slot, "APT-2"))
	})

	t.Run("TakenSlotsScope", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.ClaimSlot(ctx, types.Slot{PractitionerID: "doc-001", Date: "2026-10-15", Time: "10:00 AM"}, "APT-1"))
		require.NoError(t, store.ClaimSlot(ctx, types.Slot{PractitionerID: "doc-001", Date: "2026-10-15", Time: "08:00 AM"}, "APT-2"))
		require.NoError(t, store.ClaimSlot(ctx, types.Slot{PractitionerID: "doc-001", Date: "2026-10-16", Time: "09:00 AM"}, "APT-3"))
		require.NoError(t, store.ClaimSlot(ctx, types.Slot{PractitionerID: "doc-002", Date: "2026-10-15", Time: "09:00 AM"}, "APT-4"))

		taken, err := store.TakenSlots(ctx, "doc-001", "2026-10-15")
		require.NoError(t, err)
		assert.Equal(t, []string{"08:00 AM", "10:00 AM"}, taken)
	})

	t.Run("ConcurrentClaims", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		slot := types.Slot{PractitionerID: "doc-003", Date: "2026-10-17", Time: "11:00 AM"}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins []string
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("APT-%d", i)
				if err := store.ClaimSlot(ctx, slot, id); err == nil {
					mu.Lock()
					wins = append(wins, id)
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Len(t, wins, 1, "exactly one claim wins")
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		store := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := store.SaveAppointment(ctx, newAppointment("APT-1", "doc-001", "2026-10-15", "09:00 AM"))
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.GetAppointment(ctx, "APT-1")
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.ListAppointments(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		err = store.ClaimSlot(ctx, types.Slot{PractitionerID: "doc-001"}, "APT-1")
		assert.ErrorIs(t, err, context.Canceled)
		err = store.ReleaseSlot(ctx, types.Slot{PractitionerID: "doc-001"}, "APT-1")
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.TakenSlots(ctx, "doc-001", "2026-10-15")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
