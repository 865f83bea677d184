package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AppointmentStatus
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRescheduled, false},
		{StatusConfirmed, StatusRescheduled, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusPending, false},
		{StatusRescheduled, StatusRescheduled, true},
		{StatusRescheduled, StatusCancelled, true},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCancelled, StatusRescheduled, false},
		{StatusCancelled, StatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("Pending")
	assert.True(t, ok)
	assert.Equal(t, StatusPending, s)

	_, ok = ParseStatus("pending")
	assert.False(t, ok)
}

func TestIntakeRecordIsDetached(t *testing.T) {
	answers := Answers{"notes": "first"}
	rec := NewIntakeRecord("1", "booking", "inst", time.Now(), answers)

	answers["notes"] = "changed"
	assert.Equal(t, "first", rec.String("notes"))

	copied := rec.Answers()
	copied["notes"] = "mutated"
	assert.Equal(t, "first", rec.String("notes"))

	_, ok := rec.Value("missing")
	assert.False(t, ok)
}
