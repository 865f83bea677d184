// Package views renders read-only projections of the appointment set: the
// dashboard sidebar and the full appointments page. Both observe the
// lifecycle manager and never mutate what they are handed.
package views

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/songzhibin97/clinic-intake/lifecycle"
	"github.com/songzhibin97/clinic-intake/types"
)

// DisplayDateLayout is how appointment dates are shown, e.g. "Oct 15, 2026".
const DisplayDateLayout = "Jan 2, 2006"

// Source is the subscription half of the lifecycle manager.
type Source interface {
	Subscribe(ctx context.Context, l lifecycle.Listener) (lifecycle.SubscriptionID, error)
	Unsubscribe(id lifecycle.SubscriptionID) bool
}

// Badge is the coloured status label of a row.
type Badge struct {
	Label      string
	Color      string
	Background string
}

var palette = map[types.AppointmentStatus]Badge{
	types.StatusConfirmed: {Color: "#28a745", Background: "#d4edda"},
	types.StatusPending:   {Color: "#ffc107", Background: "#fff3cd"},
	types.StatusCancelled: {Color: "#dc3545", Background: "#f8d7da"},
}

// BadgeFor returns the badge for status. Unlisted statuses are grey.
func BadgeFor(status types.AppointmentStatus) Badge {
	b, ok := palette[status]
	if !ok {
		b = Badge{Color: "#6c757d", Background: "#e2e3e5"}
	}
	b.Label = string(status)
	return b
}

// FormatDate renders a YYYY-MM-DD date for display. Unparseable input is
// returned unchanged.
func FormatDate(date string) string {
	t, err := time.Parse(types.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format(DisplayDateLayout)
}

// Row is one rendered appointment.
type Row struct {
	ID           string
	Practitioner string
	Specialty    string
	Date         string
	Time         string
	Consultation string
	Notes        string
	Status       types.AppointmentStatus
	Badge        Badge
}

func rowOf(a types.Appointment) Row {
	return Row{
		ID:           a.ID,
		Practitioner: a.PractitionerName,
		Specialty:    a.Specialty,
		Date:         FormatDate(a.Date),
		Time:         a.Time,
		Consultation: a.Consultation,
		Notes:        a.Notes,
		Status:       a.Status,
		Badge:        BadgeFor(a.Status),
	}
}

// view holds the latest snapshot delivered by a Source.
type view struct {
	source Source
	id     lifecycle.SubscriptionID

	mu   sync.RWMutex
	snap []types.Appointment
}

// OnAppointments implements lifecycle.Listener.
func (v *view) OnAppointments(snapshot []types.Appointment) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap = snapshot
}

func (v *view) attach(ctx context.Context, source Source) error {
	id, err := source.Subscribe(ctx, v)
	if err != nil {
		return fmt.Errorf("subscribe view: %w", err)
	}
	v.source, v.id = source, id
	return nil
}

func (v *view) rows(keep func(types.Appointment) bool) []Row {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rows := make([]Row, 0, len(v.snap))
	for _, a := range v.snap {
		if keep == nil || keep(a) {
			rows = append(rows, rowOf(a))
		}
	}
	return rows
}

// Close stops receiving updates.
func (v *view) Close() {
	if v.source != nil {
		v.source.Unsubscribe(v.id)
	}
}

// Sidebar lists upcoming appointments, i.e. those not cancelled.
type Sidebar struct {
	view
}

// NewSidebar subscribes a sidebar to source.
func NewSidebar(ctx context.Context, source Source) (*Sidebar, error) {
	s := &Sidebar{}
	if err := s.attach(ctx, source); err != nil {
		return nil, err
	}
	return s, nil
}

// Rows returns the upcoming appointments in booking order.
func (s *Sidebar) Rows() []Row {
	return s.rows(types.Appointment.Active)
}

// Summary is the footer line, e.g. "2 upcoming appointments".
func (s *Sidebar) Summary() string {
	n := len(s.Rows())
	if n == 1 {
		return "1 upcoming appointment"
	}
	return fmt.Sprintf("%d upcoming appointments", n)
}

// ListPage shows every appointment, cancelled ones included.
type ListPage struct {
	view
}

// NewListPage subscribes a list page to source.
func NewListPage(ctx context.Context, source Source) (*ListPage, error) {
	p := &ListPage{}
	if err := p.attach(ctx, source); err != nil {
		return nil, err
	}
	return p, nil
}

// Rows returns all appointments in booking order.
func (p *ListPage) Rows() []Row {
	return p.rows(nil)
}

// Counts tallies appointments per status.
func (p *ListPage) Counts() map[types.AppointmentStatus]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := make(map[types.AppointmentStatus]int)
	for _, a := range p.snap {
		counts[a.Status]++
	}
	return counts
}
