package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/clinic-intake/errs"
	"github.com/songzhibin97/clinic-intake/events"
	"github.com/songzhibin97/clinic-intake/rules"
	"github.com/songzhibin97/clinic-intake/types"
)

// Standard error definitions
var (
	ErrNilInstance    = errors.New("instance cannot be nil")
	ErrNoSteps        = errors.New("definition has no steps")
	ErrEmptyStepID    = errors.New("step ID cannot be empty")
	ErrEmptyFieldKey  = errors.New("field key cannot be empty")
	ErrDuplicateStep  = errors.New("duplicate step ID")
	ErrDuplicateField = errors.New("field key owned by more than one step")
)

// Instance states
const (
	StateInProgress = "in-progress"
	StateSubmitting = "submitting"
	StateSubmitted  = "submitted"
	StateAbandoned  = "abandoned"
)

// Verdict is the outcome of validating a step.
type Verdict struct {
	OK      bool
	Missing []string
}

// Instance is a running workflow. It is only mutated through the Engine.
type Instance struct {
	types.WorkflowInstance

	def      types.Definition
	owner    map[string]int   // field key -> owning step index
	readers  map[string][]int // field key -> steps whose checks read it
	fields   map[string]types.Field
	verdicts map[int]Verdict
	cancel   context.CancelFunc // set while a submission is in flight
	mu       sync.Mutex
}

// Definition returns the definition the instance runs.
func (i *Instance) Definition() types.Definition {
	return i.def
}

// CurrentStep returns the step the instance is on.
func (i *Instance) CurrentStep() types.Step {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.def.Steps[i.StepIndex]
}

// Snapshot returns a detached copy of the runtime state.
func (i *Instance) Snapshot() types.WorkflowInstance {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := i.WorkflowInstance
	s.Answers = i.Answers.Clone()
	return s
}

func (i *Instance) lastStep() int {
	return len(i.def.Steps) - 1
}

// invalidate drops cached verdicts that depend on key.
func (i *Instance) invalidate(key string) {
	if idx, ok := i.owner[key]; ok {
		delete(i.verdicts, idx)
	}
	for _, idx := range i.readers[key] {
		delete(i.verdicts, idx)
	}
}

func (i *Instance) discard() {
	i.Answers = make(types.Answers)
	i.verdicts = make(map[int]Verdict)
}

// Engine drives guided multi-step forms.
type Engine struct {
	evaluator rules.Evaluator
	eventBus  *events.EventBus
	generate  generator.Generator
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator sets the evaluator for step conditions.
func WithEvaluator(evaluator rules.Evaluator) Option {
	return func(e *Engine) {
		if evaluator != nil {
			e.evaluator = evaluator
		}
	}
}

// WithEventBus publishes workflow events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.eventBus = bus }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine. The generator supplies intake record ids.
func NewEngine(generate generator.Generator, opts ...Option) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	e := &Engine{
		evaluator: rules.NewExprEvaluator(),
		generate:  generate,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start creates an instance of def at step 0 with no answers.
func (e *Engine) Start(ctx context.Context, def types.Definition) (*Instance, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	inst, err := newInstance(def)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", def.ID, err)
	}
	now := e.now().UnixMilli()
	inst.ID = uuid.NewString()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	e.logger.Debug().Str("instance", inst.ID).Str("definition", def.ID).Msg("workflow started")
	e.publish(ctx, events.WorkflowStarted, inst.ID, map[string]interface{}{
		"definition": def.ID,
	})
	return inst, nil
}

func newInstance(def types.Definition) (*Instance, error) {
	if len(def.Steps) == 0 {
		return nil, ErrNoSteps
	}
	steps := make([]types.Step, len(def.Steps))
	copy(steps, def.Steps)
	def.Steps = steps

	inst := &Instance{
		WorkflowInstance: types.WorkflowInstance{
			DefinitionID: def.ID,
			Status:       StateInProgress,
			Answers:      make(types.Answers),
		},
		def:      def,
		owner:    make(map[string]int),
		readers:  make(map[string][]int),
		fields:   make(map[string]types.Field),
		verdicts: make(map[int]Verdict),
	}

	stepIDs := make(map[string]bool, len(steps))
	for idx, step := range steps {
		if step.ID == "" {
			return nil, ErrEmptyStepID
		}
		if stepIDs[step.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, step.ID)
		}
		stepIDs[step.ID] = true

		for _, f := range step.Fields {
			if f.Key == "" {
				return nil, ErrEmptyFieldKey
			}
			if _, dup := inst.owner[f.Key]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateField, f.Key)
			}
			inst.owner[f.Key] = idx
			inst.fields[f.Key] = f
			for _, dep := range f.DependsOn {
				inst.readers[dep] = append(inst.readers[dep], idx)
			}
		}
	}
	return inst, nil
}

// SetAnswer stores a value without validating it. Changing a field's value
// clears the keys listed in its Clears.
func (e *Engine) SetAnswer(inst *Instance, key string, value interface{}) error {
	if inst == nil {
		return ErrNilInstance
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.Status != StateInProgress {
		return errs.InvalidState("set answer", inst.ID, inst.Status)
	}
	e.store(inst, key, value)
	return nil
}

func (e *Engine) store(inst *Instance, key string, value interface{}) {
	prev, had := inst.Answers[key]
	inst.Answers[key] = value
	inst.invalidate(key)
	if had && !reflect.DeepEqual(prev, value) {
		for _, k := range inst.fields[key].Clears {
			delete(inst.Answers, k)
			inst.invalidate(k)
		}
	}
	inst.UpdatedAt = e.now().UnixMilli()
}

// ClearAnswer removes a value.
func (e *Engine) ClearAnswer(inst *Instance, key string) error {
	if inst == nil {
		return ErrNilInstance
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.Status != StateInProgress {
		return errs.InvalidState("clear answer", inst.ID, inst.Status)
	}
	delete(inst.Answers, key)
	inst.invalidate(key)
	return nil
}

// AttachFile stores an attachment after checking its media type and size.
// A rejected file leaves the field unanswered.
func (e *Engine) AttachFile(inst *Instance, key string, file types.Attachment) error {
	if inst == nil {
		return ErrNilInstance
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.Status != StateInProgress {
		return errs.InvalidState("attach file", inst.ID, inst.Status)
	}
	if f, ok := inst.fields[key]; !ok || f.Kind != types.FieldFile {
		return errs.Validation("attach file", key)
	}
	if err := CheckAttachment(key, file); err != nil {
		delete(inst.Answers, key)
		inst.invalidate(key)
		e.logger.Debug().Err(err).Str("instance", inst.ID).Str("media_type", file.MediaType).Msg("attachment rejected")
		return err
	}
	e.store(inst, key, file)
	return nil
}

// CanAdvance validates the current step.
func (e *Engine) CanAdvance(inst *Instance) Verdict {
	if inst == nil {
		return Verdict{}
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return e.verdict(inst, inst.StepIndex)
}

func (e *Engine) verdict(inst *Instance, idx int) Verdict {
	if v, ok := inst.verdicts[idx]; ok {
		return copyVerdict(v)
	}
	v := e.validateStep(inst.def.Steps[idx], inst.Answers)
	inst.verdicts[idx] = v
	return copyVerdict(v)
}

func copyVerdict(v Verdict) Verdict {
	return Verdict{OK: v.OK, Missing: append([]string(nil), v.Missing...)}
}

func (e *Engine) validateStep(step types.Step, answers types.Answers) Verdict {
	var missing []string
	if step.Validator != nil {
		missing = step.Validator(answers.Clone())
	} else {
		for _, f := range step.Fields {
			if f.Check == nil {
				continue
			}
			v, present := answers[f.Key]
			if !f.Check(v, present, answers) {
				missing = append(missing, f.Key)
			}
		}
	}

	if step.Condition != "" {
		ok, err := e.evaluator.Evaluate(step.Condition, answers)
		if err != nil {
			e.logger.Warn().Err(err).Str("step", step.ID).Str("condition", step.Condition).Msg("step condition failed to evaluate")
		}
		if err != nil || !ok {
			keys := step.ConditionKeys
			if len(keys) == 0 {
				keys = step.Keys()
			}
			for _, k := range keys {
				if !contains(missing, k) {
					missing = append(missing, k)
				}
			}
		}
	}
	return Verdict{OK: len(missing) == 0, Missing: missing}
}

// Advance moves to the next step when the current one validates. On the last
// step a passing Advance has no effect; use Submit.
func (e *Engine) Advance(ctx context.Context, inst *Instance) error {
	if inst == nil {
		return ErrNilInstance
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.Status != StateInProgress {
		return errs.InvalidState("advance", inst.ID, inst.Status)
	}

	v := e.verdict(inst, inst.StepIndex)
	if !v.OK {
		return errs.Validation("advance", v.Missing...)
	}
	if inst.StepIndex >= inst.lastStep() {
		return nil
	}
	inst.StepIndex++
	inst.UpdatedAt = e.now().UnixMilli()

	e.publish(ctx, events.WorkflowAdvanced, inst.ID, map[string]interface{}{
		"definition": inst.DefinitionID,
		"step":       inst.StepIndex,
	})
	return nil
}

// Retreat moves to the previous step, keeping all answers.
func (e *Engine) Retreat(ctx context.Context, inst *Instance) error {
	if inst == nil {
		return ErrNilInstance
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.Status != StateInProgress {
		return errs.InvalidState("retreat", inst.ID, inst.Status)
	}
	if inst.StepIndex == 0 {
		return nil
	}
	inst.StepIndex--
	inst.UpdatedAt = e.now().UnixMilli()

	e.publish(ctx, events.WorkflowRetreated, inst.ID, map[string]interface{}{
		"definition": inst.DefinitionID,
		"step":       inst.StepIndex,
	})
	return nil
}

// Submit freezes the answers into an IntakeRecord.
func (e *Engine) Submit(ctx context.Context, inst *Instance) (types.IntakeRecord, error) {
	return e.SubmitWith(ctx, inst, nil)
}

// SubmitWith validates every step, then awaits s with the frozen record. The
// instance is marked submitted only when s succeeds; on failure or
// cancellation it stays in progress with its answers intact.
//
// While s runs the instance is submitting and rejects edits. The instance
// lock is not held, so Abandon or Reset can cancel the submission.
func (e *Engine) SubmitWith(ctx context.Context, inst *Instance, s Submitter) (types.IntakeRecord, error) {
	if inst == nil {
		return types.IntakeRecord{}, ErrNilInstance
	}
	record, sctx, err := e.beginSubmit(ctx, inst)
	if err != nil {
		return types.IntakeRecord{}, err
	}

	if s != nil {
		err = s.Submit(sctx, record)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.cancel()
	inst.cancel = nil
	if err != nil {
		if inst.Status == StateSubmitting {
			inst.Status = StateInProgress
		}
		e.logger.Info().Err(err).Str("instance", inst.ID).Msg("submission not committed")
		return types.IntakeRecord{}, fmt.Errorf("submit %s: %w", inst.ID, err)
	}
	if inst.Status != StateSubmitting {
		// Closed after the submitter passed its last cancellation check.
		e.logger.Warn().Str("instance", inst.ID).Str("record", record.ID).Msg("submission committed after abandon")
	}

	inst.Status = StateSubmitted
	inst.UpdatedAt = e.now().UnixMilli()
	e.logger.Info().Str("instance", inst.ID).Str("record", record.ID).Str("definition", inst.DefinitionID).Msg("workflow submitted")
	e.publish(ctx, events.WorkflowSubmitted, inst.ID, map[string]interface{}{
		"definition": inst.DefinitionID,
		"record":     record.ID,
	})
	return record, nil
}

// beginSubmit freezes the answers and moves inst to submitting. The returned
// context is cancelled by Abandon.
func (e *Engine) beginSubmit(ctx context.Context, inst *Instance) (types.IntakeRecord, context.Context, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.Status != StateInProgress {
		return types.IntakeRecord{}, nil, errs.InvalidState("submit", inst.ID, inst.Status)
	}
	if err := ctx.Err(); err != nil {
		return types.IntakeRecord{}, nil, err
	}

	for idx, step := range inst.def.Steps {
		v := e.validateStep(step, inst.Answers)
		inst.verdicts[idx] = v
		if !v.OK {
			return types.IntakeRecord{}, nil, errs.IncompleteWorkflow("submit", step.ID, v.Missing...)
		}
	}

	id, err := e.generate.NextID()
	if err != nil {
		return types.IntakeRecord{}, nil, fmt.Errorf("failed to generate ID: %w", err)
	}
	record := types.NewIntakeRecord(strconv.FormatUint(id, 10), inst.DefinitionID, inst.ID, e.now(), inst.Answers)

	sctx, cancel := context.WithCancel(ctx)
	inst.cancel = cancel
	inst.Status = StateSubmitting
	return record, sctx, nil
}

// Reset discards inst and returns a fresh instance of the same definition.
// If the fresh instance cannot be started, inst is left untouched.
func (e *Engine) Reset(ctx context.Context, inst *Instance) (*Instance, error) {
	if inst == nil {
		return nil, ErrNilInstance
	}
	fresh, err := e.Start(ctx, inst.def)
	if err != nil {
		return nil, err
	}
	e.Abandon(ctx, inst)
	return fresh, nil
}

// Abandon discards all answers. An in-progress instance becomes abandoned;
// a submitted one keeps its status. A submission in flight is cancelled.
func (e *Engine) Abandon(ctx context.Context, inst *Instance) {
	if inst == nil {
		return
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.cancel != nil {
		inst.cancel()
	}
	inst.discard()
	if inst.Status != StateInProgress && inst.Status != StateSubmitting {
		return
	}
	inst.Status = StateAbandoned
	inst.UpdatedAt = e.now().UnixMilli()
	e.publish(ctx, events.WorkflowAbandoned, inst.ID, map[string]interface{}{
		"definition": inst.DefinitionID,
	})
}

func (e *Engine) publish(ctx context.Context, eventType, subject string, data map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	err := e.eventBus.Publish(context.WithoutCancel(ctx), events.Event{Type: eventType, Subject: subject, Data: data})
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		e.logger.Warn().Err(err).Str("event", eventType).Str("subject", subject).Msg("failed to publish event")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
