package types

import "time"

// DateLayout is the calendar date format used for requested appointment dates.
const DateLayout = "2006-01-02"

// Answers maps field keys to the values entered by the user.
type Answers map[string]interface{}

// Clone returns a shallow copy of the answer map. Values are primitives or
// value types, so a shallow copy is enough to detach the result.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String returns the value stored under key as a string, or "" when absent
// or not a string.
func (a Answers) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// FieldKind identifies how a field is answered and validated.
type FieldKind string

const (
	FieldChoice   FieldKind = "choice"
	FieldText     FieldKind = "text"
	FieldOptional FieldKind = "optional"
	FieldDate     FieldKind = "date"
	FieldTime     FieldKind = "time"
	FieldFile     FieldKind = "file"
)

// FieldCheck reports whether a field's current value satisfies its rule.
// present is false when the key has no answer.
type FieldCheck func(value interface{}, present bool, answers Answers) bool

// Field is a single answer owned by a step.
type Field struct {
	Key     string     `json:"key"`
	Label   string     `json:"label"`
	Kind    FieldKind  `json:"kind"`
	Options []string   `json:"options,omitempty"`
	Check   FieldCheck `json:"-"`
	// Clears lists keys discarded when this field's value changes.
	Clears []string `json:"clears,omitempty"`
	// DependsOn lists keys, owned by other steps, that the check reads.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Validator maps the answer set to the list of unsatisfied field keys.
// An empty result means the step passes.
type Validator func(answers Answers) []string

// Step is one page of a guided form.
type Step struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Fields []Field `json:"fields"`
	// Condition is an optional boolean rule expression evaluated against the answers.
	Condition string `json:"condition,omitempty"`
	// ConditionKeys are reported as unsatisfied when Condition fails.
	ConditionKeys []string `json:"condition_keys,omitempty"`
	// Validator replaces the field-derived validation when set.
	Validator Validator `json:"-"`
}

// Keys returns the field keys owned by the step.
func (s Step) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		keys = append(keys, f.Key)
	}
	return keys
}

// Definition is an ordered, linear sequence of steps.
type Definition struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// WorkflowInstance holds the runtime state of a single run of a definition.
type WorkflowInstance struct {
	ID           string  `json:"id"`
	DefinitionID string  `json:"definition_id"`
	Status       string  `json:"status"` // "in-progress", "submitting", "submitted", "abandoned"
	StepIndex    int     `json:"step_index"`
	Answers      Answers `json:"answers"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
}

// IntakeRecord is the frozen result of a submitted workflow.
type IntakeRecord struct {
	ID           string
	DefinitionID string
	InstanceID   string
	SubmittedAt  time.Time
	answers      Answers
}

// NewIntakeRecord freezes a copy of answers into a record.
func NewIntakeRecord(id, definitionID, instanceID string, at time.Time, answers Answers) IntakeRecord {
	return IntakeRecord{
		ID:           id,
		DefinitionID: definitionID,
		InstanceID:   instanceID,
		SubmittedAt:  at,
		answers:      answers.Clone(),
	}
}

// Answers returns a copy of the recorded answers.
func (r IntakeRecord) Answers() Answers {
	return r.answers.Clone()
}

// Value returns a single recorded answer.
func (r IntakeRecord) Value(key string) (interface{}, bool) {
	v, ok := r.answers[key]
	return v, ok
}

// String returns a recorded answer as a string.
func (r IntakeRecord) String(key string) string {
	return r.answers.String(key)
}

// Attachment describes a file selected for an attachment field.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
}

// Practitioner is reference data offered in the booking workflow.
type Practitioner struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Specialty string   `json:"specialty" yaml:"specialty"`
	Rating    float64  `json:"rating" yaml:"rating"`
	Phone     string   `json:"phone" yaml:"phone"`
	Location  string   `json:"location" yaml:"location"`
	Slots     []string `json:"slots" yaml:"slots"`
}

// Offers reports whether the practitioner offers the given time label.
func (p Practitioner) Offers(label string) bool {
	for _, s := range p.Slots {
		if s == label {
			return true
		}
	}
	return false
}

// Slot is a (practitioner, date, time) triple.
type Slot struct {
	PractitionerID string `json:"practitioner_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
}

// Appointment is a booking owned by the lifecycle manager.
type Appointment struct {
	ID               string            `json:"id"`
	PractitionerID   string            `json:"practitioner_id"`
	PractitionerName string            `json:"practitioner_name"`
	Specialty        string            `json:"specialty"`
	Date             string            `json:"date"`
	Time             string            `json:"time"`
	Consultation     string            `json:"consultation"`
	Notes            string            `json:"notes,omitempty"`
	Status           AppointmentStatus `json:"status"`
	IntakeID         string            `json:"intake_id,omitempty"`
	BookedAt         time.Time         `json:"booked_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Slot returns the triple the appointment occupies.
func (a Appointment) Slot() Slot {
	return Slot{PractitionerID: a.PractitionerID, Date: a.Date, Time: a.Time}
}

// Active reports whether the appointment still holds its slot.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}
