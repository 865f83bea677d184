// Package catalog holds the reference data the intake workflows present:
// practitioners and their offered time labels, option lists and the
// scheduling horizon.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/clinic-intake/types"
)

//go:embed default.yaml
var defaultCatalog []byte

// Option is one entry of an enumerated choice.
type Option struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	Description string `yaml:"description,omitempty"`
}

// Catalog is the reference data for a clinic.
type Catalog struct {
	HorizonDays       int                  `yaml:"horizon_days"`
	ClinicHours       []string             `yaml:"clinic_hours"`
	Practitioners     []types.Practitioner `yaml:"practitioners"`
	ConsultationTypes []Option             `yaml:"consultation_types"`
	UrgencyLevels     []Option             `yaml:"urgency_levels"`
	ReportTypes       []Option             `yaml:"report_types"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog. Practitioners without their own
// slot list offer the clinic hours.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	for i := range c.Practitioners {
		if len(c.Practitioners[i].Slots) == 0 {
			c.Practitioners[i].Slots = append([]string(nil), c.ClinicHours...)
		}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Practitioners) == 0 {
		return errors.New("catalog has no practitioners")
	}
	seen := make(map[string]bool, len(c.Practitioners))
	for _, p := range c.Practitioners {
		if p.ID == "" {
			return errors.New("practitioner id cannot be empty")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate practitioner id %q", p.ID)
		}
		seen[p.ID] = true
		if len(p.Slots) == 0 {
			return fmt.Errorf("practitioner %q offers no slots", p.ID)
		}
	}
	for name, opts := range map[string][]Option{
		"consultation_types": c.ConsultationTypes,
		"urgency_levels":     c.UrgencyLevels,
		"report_types":       c.ReportTypes,
	} {
		if len(opts) == 0 {
			return fmt.Errorf("catalog has no %s", name)
		}
	}
	return nil
}

// Practitioner looks up a practitioner by id.
func (c *Catalog) Practitioner(id string) (types.Practitioner, bool) {
	for _, p := range c.Practitioners {
		if p.ID == id {
			return p, true
		}
	}
	return types.Practitioner{}, false
}

// PractitionerIDs returns practitioner ids in catalog order.
func (c *Catalog) PractitionerIDs() []string {
	ids := make([]string, 0, len(c.Practitioners))
	for _, p := range c.Practitioners {
		ids = append(ids, p.ID)
	}
	return ids
}

// IDs returns the ids of an option list.
func IDs(opts []Option) []string {
	ids := make([]string, 0, len(opts))
	for _, o := range opts {
		ids = append(ids, o.ID)
	}
	return ids
}

// Label returns the label for id in opts, or id itself when unknown.
func Label(opts []Option, id string) string {
	for _, o := range opts {
		if o.ID == id {
			return o.Label
		}
	}
	return id
}

// Dates returns the bookable calendar dates: the next HorizonDays days,
// starting tomorrow.
func (c *Catalog) Dates(now time.Time) []string {
	dates := make([]string, 0, c.HorizonDays)
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	for i := 1; i <= c.HorizonDays; i++ {
		dates = append(dates, today.AddDate(0, 0, i).Format(types.DateLayout))
	}
	return dates
}

// InHorizon reports whether date is one of Dates(now).
func (c *Catalog) InHorizon(date string, now time.Time) bool {
	for _, d := range c.Dates(now) {
		if d == date {
			return true
		}
	}
	return false
}
