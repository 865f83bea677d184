// Package lifecycle owns the appointment set and its conflict-aware
// scheduling. Views observe it through snapshot subscriptions; they never
// hold a mutable copy.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/clinic-intake/catalog"
	"github.com/songzhibin97/clinic-intake/errs"
	"github.com/songzhibin97/clinic-intake/events"
	"github.com/songzhibin97/clinic-intake/storage"
	"github.com/songzhibin97/clinic-intake/types"
	"github.com/songzhibin97/clinic-intake/workflow"
)

// IDPrefix starts every appointment id.
const IDPrefix = "APT-"

// Standard error definitions
var (
	ErrNilStore     = errors.New("storage is required")
	ErrNilCatalog   = errors.New("catalog is required")
	ErrNilGenerator = errors.New("generator is required")
)

// Listener receives the full appointment set after every change.
type Listener interface {
	OnAppointments(snapshot []types.Appointment)
}

// ListenerFunc is a function adapter for Listener.
type ListenerFunc func(snapshot []types.Appointment)

// OnAppointments implements the Listener interface.
func (f ListenerFunc) OnAppointments(snapshot []types.Appointment) {
	f(snapshot)
}

// SubscriptionID identifies a listener registration.
type SubscriptionID uint64

type subscriber struct {
	id       SubscriptionID
	listener Listener
}

// Manager is the single owner of the appointment set.
//
// Mutations are serialized. Listeners run synchronously, in subscription
// order, while the mutation that triggered them still holds the write lock;
// calling a mutating method from a listener fails with InvalidState.
type Manager struct {
	store    storage.Storage
	catalog  *catalog.Catalog
	generate generator.Generator
	eventBus *events.EventBus
	logger   zerolog.Logger
	now      func() time.Time
	initial  types.AppointmentStatus

	mu        sync.Mutex // serializes mutations and subscriptions
	notifying atomic.Bool

	lmu       sync.Mutex
	listeners []subscriber
	nextID    SubscriptionID
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithEventBus announces every mutation on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Manager) { m.eventBus = bus }
}

// WithClock overrides the time source used for timestamps and the horizon.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithInitialStatus sets the status of newly booked appointments. Only
// Confirmed and Pending are accepted; anything else is ignored.
func WithInitialStatus(status types.AppointmentStatus) Option {
	return func(m *Manager) {
		if status == types.StatusConfirmed || status == types.StatusPending {
			m.initial = status
		}
	}
}

// NewManager creates a Manager over store. Appointment ids come from generate.
func NewManager(store storage.Storage, cat *catalog.Catalog, generate generator.Generator, opts ...Option) (*Manager, error) {
	switch {
	case store == nil:
		return nil, ErrNilStore
	case cat == nil:
		return nil, ErrNilCatalog
	case generate == nil:
		return nil, ErrNilGenerator
	}
	m := &Manager{
		store:    store,
		catalog:  cat,
		generate: generate,
		logger:   zerolog.Nop(),
		now:      time.Now,
		initial:  types.StatusConfirmed,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ListAvailableSlots returns the practitioner's offered times for date that
// no active appointment holds. The date must lie within the booking horizon.
// The sequence re-reads the held set each time it is ranged over; a failed
// read is yielded as a single error and ends that pass.
func (m *Manager) ListAvailableSlots(ctx context.Context, practitionerID, date string) (iter.Seq2[string, error], error) {
	const op = "list slots"
	p, ok := m.catalog.Practitioner(practitionerID)
	if !ok {
		return nil, errs.NotFound(op, practitionerID, nil)
	}
	if !m.catalog.InHorizon(date, m.now()) {
		return nil, errs.Validation(op, workflow.KeyDate)
	}
	offered := slices.Clone(p.Slots)

	return func(yield func(string, error) bool) {
		taken, err := m.store.TakenSlots(ctx, practitionerID, date)
		if err != nil {
			m.logger.Warn().Err(err).Str("practitioner", practitionerID).Str("date", date).Msg("failed to read taken slots")
			yield("", fmt.Errorf("%s: %w", op, err))
			return
		}
		for _, label := range offered {
			if slices.Contains(taken, label) {
				continue
			}
			if !yield(label, nil) {
				return
			}
		}
	}, nil
}

// CreateFromIntake books the slot named by a submitted booking record. The
// slot is re-checked at commit. A context cancelled before commit leaves
// nothing changed.
func (m *Manager) CreateFromIntake(ctx context.Context, record types.IntakeRecord) (types.Appointment, error) {
	const op = "create appointment"
	if err := m.enter(op, record.ID); err != nil {
		return types.Appointment{}, err
	}
	defer m.mu.Unlock()

	if record.DefinitionID != workflow.BookingDefinitionID {
		return types.Appointment{}, errs.InvalidState(op, record.ID, "not a booking record: "+record.DefinitionID)
	}
	p, err := m.checkSlot(op, record.String(workflow.KeyPractitioner), record.String(workflow.KeyDate), record.String(workflow.KeyTime))
	if err != nil {
		return types.Appointment{}, err
	}

	id, err := m.generate.NextID()
	if err != nil {
		return types.Appointment{}, fmt.Errorf("failed to generate ID: %w", err)
	}
	now := m.now()
	appt := types.Appointment{
		ID:               IDPrefix + strconv.FormatUint(id, 10),
		PractitionerID:   p.ID,
		PractitionerName: p.Name,
		Specialty:        p.Specialty,
		Date:             record.String(workflow.KeyDate),
		Time:             record.String(workflow.KeyTime),
		Consultation:     catalog.Label(m.catalog.ConsultationTypes, record.String(workflow.KeyConsultation)),
		Notes:            record.String(workflow.KeyNotes),
		Status:           m.initial,
		IntakeID:         record.ID,
		BookedAt:         now,
		UpdatedAt:        now,
	}

	if err := ctx.Err(); err != nil {
		return types.Appointment{}, err
	}
	// Past this point the commit runs to completion.
	commit := context.WithoutCancel(ctx)

	if err := m.claim(commit, op, appt.Slot(), appt.ID); err != nil {
		return types.Appointment{}, err
	}
	if err := m.store.SaveAppointment(commit, appt); err != nil {
		m.release(commit, appt.Slot(), appt.ID)
		return types.Appointment{}, fmt.Errorf("%s: %w", op, err)
	}

	m.logger.Info().Str("appointment", appt.ID).Str("practitioner", appt.PractitionerID).
		Str("date", appt.Date).Str("time", appt.Time).Str("status", string(appt.Status)).Msg("appointment booked")
	m.changed(commit, events.AppointmentBooked, appt)
	return appt, nil
}

// Confirm moves a pending appointment to Confirmed.
func (m *Manager) Confirm(ctx context.Context, id string) (types.Appointment, error) {
	const op = "confirm appointment"
	if err := m.enter(op, id); err != nil {
		return types.Appointment{}, err
	}
	defer m.mu.Unlock()

	appt, err := m.get(ctx, op, id)
	if err != nil {
		return types.Appointment{}, err
	}
	if !types.CanTransition(appt.Status, types.StatusConfirmed) {
		return types.Appointment{}, errs.InvalidState(op, id, string(appt.Status))
	}
	if err := ctx.Err(); err != nil {
		return types.Appointment{}, err
	}
	commit := context.WithoutCancel(ctx)

	appt.Status = types.StatusConfirmed
	appt.UpdatedAt = m.now()
	if err := m.store.SaveAppointment(commit, appt); err != nil {
		return types.Appointment{}, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Info().Str("appointment", id).Msg("appointment confirmed")
	m.changed(commit, events.AppointmentConfirmed, appt)
	return appt, nil
}

// Cancel marks an appointment Cancelled and frees its slot. Cancelled
// appointments stay in the set; cancelling one again fails with InvalidState.
func (m *Manager) Cancel(ctx context.Context, id string) (types.Appointment, error) {
	const op = "cancel appointment"
	if err := m.enter(op, id); err != nil {
		return types.Appointment{}, err
	}
	defer m.mu.Unlock()

	appt, err := m.get(ctx, op, id)
	if err != nil {
		return types.Appointment{}, err
	}
	if !types.CanTransition(appt.Status, types.StatusCancelled) {
		return types.Appointment{}, errs.InvalidState(op, id, string(appt.Status))
	}
	if err := ctx.Err(); err != nil {
		return types.Appointment{}, err
	}
	commit := context.WithoutCancel(ctx)

	appt.Status = types.StatusCancelled
	appt.UpdatedAt = m.now()
	if err := m.store.SaveAppointment(commit, appt); err != nil {
		return types.Appointment{}, fmt.Errorf("%s: %w", op, err)
	}
	m.release(commit, appt.Slot(), appt.ID)

	m.logger.Info().Str("appointment", id).Msg("appointment cancelled")
	m.changed(commit, events.AppointmentCancelled, appt)
	return appt, nil
}

// Reschedule moves an appointment to a new date and time in place, keeping
// its id. Pending and cancelled appointments cannot be rescheduled.
func (m *Manager) Reschedule(ctx context.Context, id, date, at string) (types.Appointment, error) {
	const op = "reschedule appointment"
	if err := m.enter(op, id); err != nil {
		return types.Appointment{}, err
	}
	defer m.mu.Unlock()

	appt, err := m.get(ctx, op, id)
	if err != nil {
		return types.Appointment{}, err
	}
	if !types.CanTransition(appt.Status, types.StatusRescheduled) {
		return types.Appointment{}, errs.InvalidState(op, id, string(appt.Status))
	}
	if _, err := m.checkSlot(op, appt.PractitionerID, date, at); err != nil {
		return types.Appointment{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.Appointment{}, err
	}
	commit := context.WithoutCancel(ctx)

	prev := appt.Slot()
	appt.Date, appt.Time = date, at
	if err := m.claim(commit, op, appt.Slot(), appt.ID); err != nil {
		return types.Appointment{}, err
	}
	appt.Status = types.StatusRescheduled
	appt.UpdatedAt = m.now()
	if err := m.store.SaveAppointment(commit, appt); err != nil {
		if appt.Slot() != prev {
			m.release(commit, appt.Slot(), appt.ID)
		}
		return types.Appointment{}, fmt.Errorf("%s: %w", op, err)
	}
	if appt.Slot() != prev {
		m.release(commit, prev, appt.ID)
	}

	m.logger.Info().Str("appointment", id).Str("from", prev.Date+" "+prev.Time).
		Str("to", date+" "+at).Msg("appointment rescheduled")
	m.changed(commit, events.AppointmentRescheduled, appt)
	return appt, nil
}

// Get returns one appointment.
func (m *Manager) Get(ctx context.Context, id string) (types.Appointment, error) {
	return m.get(ctx, "get appointment", id)
}

// Snapshot returns every appointment, cancelled ones included, in booking order.
func (m *Manager) Snapshot(ctx context.Context) ([]types.Appointment, error) {
	return m.store.ListAppointments(ctx)
}

// Subscribe registers l and immediately delivers the current snapshot to it.
func (m *Manager) Subscribe(ctx context.Context, l Listener) (SubscriptionID, error) {
	if l == nil {
		return 0, errors.New("listener cannot be nil")
	}
	if err := m.enter("subscribe", ""); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()

	snap, err := m.store.ListAppointments(ctx)
	if err != nil {
		return 0, fmt.Errorf("subscribe: %w", err)
	}

	m.lmu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscriber{id: id, listener: l})
	m.lmu.Unlock()

	m.notifying.Store(true)
	defer m.notifying.Store(false)
	l.OnAppointments(snap)
	return id, nil
}

// Unsubscribe removes a listener. It is safe to call from a listener.
func (m *Manager) Unsubscribe(id SubscriptionID) bool {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	for i, s := range m.listeners {
		if s.id == id {
			m.listeners = slices.Delete(m.listeners, i, i+1)
			return true
		}
	}
	return false
}

// Submitter adapts the manager to the booking workflow's submission call.
// onBooked, when set, receives each created appointment.
func (m *Manager) Submitter(onBooked func(types.Appointment)) workflow.Submitter {
	return workflow.SubmitterFunc(func(ctx context.Context, record types.IntakeRecord) error {
		appt, err := m.CreateFromIntake(ctx, record)
		if err != nil {
			return err
		}
		if onBooked != nil {
			onBooked(appt)
		}
		return nil
	})
}

// enter takes the write lock unless called from inside a listener.
func (m *Manager) enter(op, id string) error {
	if m.notifying.Load() {
		return errs.InvalidState(op, id, "called during change notification")
	}
	m.mu.Lock()
	return nil
}

func (m *Manager) get(ctx context.Context, op, id string) (types.Appointment, error) {
	appt, err := m.store.GetAppointment(ctx, id)
	if errors.Is(err, storage.ErrAppointmentNotFound) {
		return types.Appointment{}, errs.NotFound(op, id, err)
	}
	if err != nil {
		return types.Appointment{}, fmt.Errorf("%s %s: %w", op, id, err)
	}
	return appt, nil
}

// checkSlot validates a requested triple against the catalog.
func (m *Manager) checkSlot(op, practitionerID, date, at string) (types.Practitioner, error) {
	p, ok := m.catalog.Practitioner(practitionerID)
	if !ok {
		return types.Practitioner{}, errs.Validation(op, workflow.KeyPractitioner)
	}
	var bad []string
	if !m.catalog.InHorizon(date, m.now()) {
		bad = append(bad, workflow.KeyDate)
	}
	if !p.Offers(at) {
		bad = append(bad, workflow.KeyTime)
	}
	if len(bad) > 0 {
		return types.Practitioner{}, errs.Validation(op, bad...)
	}
	return p, nil
}

func (m *Manager) claim(ctx context.Context, op string, slot types.Slot, apptID string) error {
	err := m.store.ClaimSlot(ctx, slot, apptID)
	if errors.Is(err, storage.ErrSlotTaken) {
		m.logger.Info().Str("practitioner", slot.PractitionerID).Str("date", slot.Date).Str("time", slot.Time).Msg("slot conflict")
		m.publish(ctx, events.Event{
			Type:    events.AppointmentConflict,
			Subject: apptID,
			Kind:    errs.KindSlotConflict,
			Data: map[string]interface{}{
				"practitioner": slot.PractitionerID,
				"date":         slot.Date,
				"time":         slot.Time,
			},
		})
		return errs.SlotConflict(op, slot.PractitionerID, slot.Date, slot.Time)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Manager) release(ctx context.Context, slot types.Slot, apptID string) {
	if err := m.store.ReleaseSlot(ctx, slot, apptID); err != nil {
		m.logger.Error().Err(err).Str("appointment", apptID).Str("date", slot.Date).Str("time", slot.Time).Msg("failed to release slot")
	}
}

// changed announces a committed mutation to listeners and the bus.
func (m *Manager) changed(ctx context.Context, eventType string, appt types.Appointment) {
	m.notify(ctx)
	m.publish(ctx, events.Event{
		Type:    eventType,
		Subject: appt.ID,
		Data: map[string]interface{}{
			"practitioner": appt.PractitionerID,
			"date":         appt.Date,
			"time":         appt.Time,
			"status":       string(appt.Status),
		},
	})
}

func (m *Manager) notify(ctx context.Context) {
	m.lmu.Lock()
	subs := slices.Clone(m.listeners)
	m.lmu.Unlock()
	if len(subs) == 0 {
		return
	}

	snap, err := m.store.ListAppointments(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to build snapshot for listeners")
		return
	}
	m.notifying.Store(true)
	defer m.notifying.Store(false)
	for _, s := range subs {
		s.listener.OnAppointments(slices.Clone(snap))
	}
}

func (m *Manager) publish(ctx context.Context, event events.Event) {
	if m.eventBus == nil {
		return
	}
	if err := m.eventBus.Publish(ctx, event); err != nil && !errors.Is(err, events.ErrNoHandler) {
		m.logger.Warn().Err(err).Str("event", event.Type).Str("subject", event.Subject).Msg("failed to publish event")
	}
}
