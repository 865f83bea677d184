// Package intake builds the terminal objects of the non-booking dialogs:
// emergency cases and uploaded reports.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/clinic-intake/errs"
	"github.com/songzhibin97/clinic-intake/types"
	"github.com/songzhibin97/clinic-intake/workflow"
)

// Id prefixes
const (
	EmergencyPrefix = "EMG-"
	ReportPrefix    = "RPT-"
)

// CaseActive is the status of a newly raised emergency case.
const CaseActive = "Active"

// ErrWrongDefinition is returned when a record came from another dialog.
var ErrWrongDefinition = errors.New("record from unexpected definition")

// EmergencyCase is a raised emergency.
type EmergencyCase struct {
	ID             string    `json:"id"`
	UrgencyLevel   string    `json:"urgency_level"`
	PatientName    string    `json:"patient_name"`
	PatientAge     string    `json:"patient_age,omitempty"`
	ContactPhone   string    `json:"contact_phone"`
	Location       string    `json:"location"`
	Symptoms       string    `json:"symptoms"`
	MedicalHistory string    `json:"medical_history,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	Status         string    `json:"status"`
	IntakeID       string    `json:"intake_id"`
}

// Report is an uploaded medical document.
type Report struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	FileName    string    `json:"file_name"`
	MediaType   string    `json:"media_type"`
	FileSizeMB  string    `json:"file_size_mb"`
	PatientName string    `json:"patient_name"`
	Description string    `json:"description,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
	IntakeID    string    `json:"intake_id"`
}

func nextID(generate generator.Generator, prefix string) (string, error) {
	id, err := generate.NextID()
	if err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}
	return prefix + strconv.FormatUint(id, 10), nil
}

func expect(record types.IntakeRecord, definitionID string) error {
	if record.DefinitionID != definitionID {
		return fmt.Errorf("%w: want %s, got %s", ErrWrongDefinition, definitionID, record.DefinitionID)
	}
	return nil
}

// NewEmergencyCase raises an active case from a submitted emergency record.
func NewEmergencyCase(record types.IntakeRecord, generate generator.Generator) (EmergencyCase, error) {
	if err := expect(record, workflow.EmergencyDefinitionID); err != nil {
		return EmergencyCase{}, err
	}
	id, err := nextID(generate, EmergencyPrefix)
	if err != nil {
		return EmergencyCase{}, err
	}
	return EmergencyCase{
		ID:             id,
		UrgencyLevel:   record.String(workflow.KeyUrgency),
		PatientName:    record.String(workflow.KeyPatientName),
		PatientAge:     record.String(workflow.KeyPatientAge),
		ContactPhone:   record.String(workflow.KeyContactPhone),
		Location:       record.String(workflow.KeyLocation),
		Symptoms:       record.String(workflow.KeySymptoms),
		MedicalHistory: record.String(workflow.KeyMedicalHistory),
		SubmittedAt:    record.SubmittedAt,
		Status:         CaseActive,
		IntakeID:       record.ID,
	}, nil
}

// NewReport files a report from a submitted upload record.
func NewReport(record types.IntakeRecord, generate generator.Generator) (Report, error) {
	if err := expect(record, workflow.UploadReportDefinitionID); err != nil {
		return Report{}, err
	}
	v, _ := record.Value(workflow.KeyFile)
	file, ok := v.(types.Attachment)
	if !ok {
		return Report{}, errs.Validation("file report", workflow.KeyFile)
	}
	id, err := nextID(generate, ReportPrefix)
	if err != nil {
		return Report{}, err
	}
	return Report{
		ID:          id,
		Type:        record.String(workflow.KeyReportType),
		FileName:    file.Name,
		MediaType:   file.MediaType,
		FileSizeMB:  SizeMB(file.Size),
		PatientName: record.String(workflow.KeyPatientName),
		Description: record.String(workflow.KeyDescription),
		UploadedAt:  record.SubmittedAt,
		IntakeID:    record.ID,
	}, nil
}

// SizeMB formats a byte count as mebibytes with two decimals.
func SizeMB(size int64) string {
	return fmt.Sprintf("%.2f", float64(size)/1024/1024)
}

// EmergencySubmitter raises a case on submission and hands it to onCase.
func EmergencySubmitter(generate generator.Generator, onCase func(EmergencyCase)) workflow.Submitter {
	return workflow.SubmitterFunc(func(ctx context.Context, record types.IntakeRecord) error {
		c, err := NewEmergencyCase(record, generate)
		if err != nil {
			return err
		}
		if onCase != nil {
			onCase(c)
		}
		return nil
	})
}

// ReportSubmitter files a report on submission and hands it to onReport.
func ReportSubmitter(generate generator.Generator, onReport func(Report)) workflow.Submitter {
	return workflow.SubmitterFunc(func(ctx context.Context, record types.IntakeRecord) error {
		r, err := NewReport(record, generate)
		if err != nil {
			return err
		}
		if onReport != nil {
			onReport(r)
		}
		return nil
	})
}
