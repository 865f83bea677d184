package workflow

import (
	"time"

	"github.com/songzhibin97/clinic-intake/catalog"
	"github.com/songzhibin97/clinic-intake/types"
)

// Definition ids
const (
	BookingDefinitionID      = "booking"
	EmergencyDefinitionID    = "emergency"
	UploadReportDefinitionID = "upload-report"
)

// Answer keys
const (
	KeyConsultation = "consultation"
	KeyPractitioner = "practitioner"
	KeyDate         = "date"
	KeyTime         = "time"
	KeyNotes        = "notes"

	KeyUrgency        = "urgency"
	KeyPatientName    = "patientName"
	KeyPatientAge     = "patientAge"
	KeyContactPhone   = "contactPhone"
	KeyLocation       = "location"
	KeySymptoms       = "symptoms"
	KeyMedicalHistory = "medicalHistory"

	KeyReportType  = "reportType"
	KeyFile        = "file"
	KeyDescription = "description"
)

// Booking is the four-step appointment booking form. Dates must fall in the
// catalog horizon relative to now; times must be offered by the chosen
// practitioner.
func Booking(cat *catalog.Catalog, now func() time.Time) types.Definition {
	if now == nil {
		now = time.Now
	}
	offered := func(answers types.Answers) []string {
		p, ok := cat.Practitioner(answers.String(KeyPractitioner))
		if !ok {
			return nil
		}
		return p.Slots
	}
	inHorizon := func(date string) bool {
		return cat.InHorizon(date, now())
	}

	return types.Definition{
		ID:   BookingDefinitionID,
		Name: "Book Appointment",
		Steps: []types.Step{
			NewStep("consultation", "Consultation type",
				Choice(KeyConsultation, "Consultation type", catalog.IDs(cat.ConsultationTypes)...)),
			NewStep("practitioner", "Choose a doctor",
				Choice(KeyPractitioner, "Doctor", cat.PractitionerIDs()...)),
			NewStep("schedule", "Date and time",
				Date(KeyDate, "Date", inHorizon, KeyTime),
				Time(KeyTime, "Time", offered, KeyPractitioner, KeyDate)),
			NewStep("confirm", "Confirm booking",
				Optional(KeyNotes, "Notes")),
		},
	}
}

// Emergency is the three-step emergency intake form.
func Emergency(cat *catalog.Catalog) types.Definition {
	patient := NewStep("patient", "Patient details",
		Text(KeyPatientName, "Patient name"),
		Optional(KeyPatientAge, "Age"),
		Text(KeyContactPhone, "Contact phone"),
		Text(KeyLocation, "Location"))
	patient.Condition = "blank(patientAge) || digits(patientAge)"
	patient.ConditionKeys = []string{KeyPatientAge}

	return types.Definition{
		ID:   EmergencyDefinitionID,
		Name: "Emergency Case",
		Steps: []types.Step{
			NewStep("urgency", "Urgency level",
				Choice(KeyUrgency, "Urgency", catalog.IDs(cat.UrgencyLevels)...)),
			patient,
			NewStep("symptoms", "Symptoms",
				Text(KeySymptoms, "Symptoms"),
				Optional(KeyMedicalHistory, "Medical history")),
		},
	}
}

// UploadReport is the three-step report upload form.
func UploadReport(cat *catalog.Catalog) types.Definition {
	return types.Definition{
		ID:   UploadReportDefinitionID,
		Name: "Upload Report",
		Steps: []types.Step{
			NewStep("reportType", "Report type",
				Choice(KeyReportType, "Report type", catalog.IDs(cat.ReportTypes)...)),
			NewStep("document", "File and patient",
				File(KeyFile, "Report file"),
				Text(KeyPatientName, "Patient name")),
			NewStep("review", "Review",
				Optional(KeyDescription, "Description")),
		},
	}
}
