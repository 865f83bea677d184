package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, 7, c.HorizonDays)
	assert.Len(t, c.Practitioners, 4)
	assert.Equal(t, []string{"general", "emergency", "followup", "labreview", "surgery", "other"}, IDs(c.ConsultationTypes))
	assert.Equal(t, []string{"life-threatening", "severe", "moderate", "urgent"}, IDs(c.UrgencyLevels))
	assert.Equal(t, []string{"xray", "bloodtest", "ultrasound", "mri", "prescription", "other"}, IDs(c.ReportTypes))

	p, ok := c.Practitioner("doc-003")
	require.True(t, ok)
	assert.Equal(t, "Dr. Emily Davis", p.Name)
	assert.Equal(t, c.ClinicHours, p.Slots)
	assert.True(t, p.Offers("05:00 PM"))
	assert.False(t, p.Offers("06:00 PM"))

	_, ok = c.Practitioner("doc-999")
	assert.False(t, ok)
}

func TestLabel(t *testing.T) {
	c := Default()
	assert.Equal(t, "Follow-up", Label(c.ConsultationTypes, "followup"))
	assert.Equal(t, "unknown", Label(c.ConsultationTypes, "unknown"))
}

func TestDates(t *testing.T) {
	c := Default()
	now := time.Date(2026, 10, 14, 18, 30, 0, 0, time.UTC)

	dates := c.Dates(now)
	require.Len(t, dates, 7)
	assert.Equal(t, "2026-10-15", dates[0])
	assert.Equal(t, "2026-10-21", dates[6])

	assert.True(t, c.InHorizon("2026-10-15", now))
	assert.False(t, c.InHorizon("2026-10-14", now))
	assert.False(t, c.InHorizon("2026-10-22", now))
}

func TestParse(t *testing.T) {
	t.Run("PractitionerSlotsOverrideClinicHours", func(t *testing.T) {
		c, err := Parse([]byte(`
clinic_hours: ["09:00 AM", "10:00 AM"]
practitioners:
  - id: doc-a
    slots: ["11:00 AM"]
  - id: doc-b
consultation_types: [{id: general, label: General}]
urgency_levels: [{id: urgent, label: Urgent}]
report_types: [{id: mri, label: MRI}]
`))
		require.NoError(t, err)
		a, _ := c.Practitioner("doc-a")
		b, _ := c.Practitioner("doc-b")
		assert.Equal(t, []string{"11:00 AM"}, a.Slots)
		assert.Equal(t, []string{"09:00 AM", "10:00 AM"}, b.Slots)
		assert.Equal(t, 7, c.HorizonDays)
	})

	t.Run("DuplicatePractitioner", func(t *testing.T) {
		_, err := Parse([]byte(`
clinic_hours: ["09:00 AM"]
practitioners: [{id: doc-a}, {id: doc-a}]
consultation_types: [{id: general}]
urgency_levels: [{id: urgent}]
report_types: [{id: mri}]
`))
		assert.ErrorContains(t, err, "duplicate practitioner")
	})

	t.Run("NoSlots", func(t *testing.T) {
		_, err := Parse([]byte(`
practitioners: [{id: doc-a}]
consultation_types: [{id: general}]
urgency_levels: [{id: urgent}]
report_types: [{id: mri}]
`))
		assert.ErrorContains(t, err, "offers no slots")
	})

	t.Run("MissingOptions", func(t *testing.T) {
		_, err := Parse([]byte(`
clinic_hours: ["09:00 AM"]
practitioners: [{id: doc-a}]
`))
		assert.Error(t, err)
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		_, err := Parse([]byte("practitioners: ["))
		assert.ErrorContains(t, err, "decode catalog")
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, defaultCatalog, 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Practitioners, 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read catalog")
}
