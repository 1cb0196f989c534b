package workflow

import (
	"fmt"
	"sync"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/event"
)

type eventBinding struct {
	event string
	def   *Definition
	cond  *condition
}

// CronBinding pairs a workflow with one of its cron schedules.
type CronBinding struct {
	WorkflowID string
	Schedule   string
}

// Registry indexes definitions by ID and by trigger. Registration happens
// once at startup; lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	order   []string
	byEvent map[string][]eventBinding
	crons   []CronBinding
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:    make(map[string]*Definition),
		byEvent: make(map[string][]eventBinding),
	}
}

// Register validates def and indexes its triggers. A second definition
// with the same ID is rejected with orquesta.ErrDuplicateWorkflow.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("workflow: definition id is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("workflow %s: handler is required", def.ID)
	}
	if len(def.Triggers) == 0 {
		return fmt.Errorf("workflow %s: at least one trigger is required", def.ID)
	}

	var (
		bindings []eventBinding
		crons    []CronBinding
	)
	for i, t := range def.Triggers {
		switch {
		case t.Event != "" && t.Cron != "":
			return fmt.Errorf("workflow %s: trigger %d sets both event and cron", def.ID, i)
		case t.Event != "":
			b := eventBinding{event: t.Event, def: def}
			if t.If != "" {
				cond, err := compileCondition(t.If)
				if err != nil {
					return fmt.Errorf("workflow %s: %w", def.ID, err)
				}
				b.cond = cond
			}
			bindings = append(bindings, b)
		case t.Cron != "":
			if _, err := cron.ParseSchedule(t.Cron); err != nil {
				return fmt.Errorf("workflow %s: invalid cron %q: %w", def.ID, t.Cron, err)
			}
			crons = append(crons, CronBinding{WorkflowID: def.ID, Schedule: t.Cron})
		default:
			return fmt.Errorf("workflow %s: trigger %d is empty", def.ID, i)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("%w: %s", orquesta.ErrDuplicateWorkflow, def.ID)
	}
	r.defs[def.ID] = def
	r.order = append(r.order, def.ID)
	for _, b := range bindings {
		r.byEvent[b.event] = append(r.byEvent[b.event], b)
	}
	r.crons = append(r.crons, crons...)
	return nil
}

// Get returns the definition registered under workflowID.
func (r *Registry) Get(workflowID string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[workflowID]
	return def, ok
}

// Match returns the definitions triggered by evt, in registration order.
// A definition with several matching triggers is returned once.
func (r *Registry) Match(evt *event.Event) ([]*Definition, error) {
	r.mu.RLock()
	bindings := r.byEvent[evt.Name]
	r.mu.RUnlock()

	var (
		out  []*Definition
		seen = make(map[string]struct{}, len(bindings))
	)
	for _, b := range bindings {
		if _, dup := seen[b.def.ID]; dup {
			continue
		}
		if b.cond != nil {
			ok, err := b.cond.match(evt)
			if err != nil {
				return out, fmt.Errorf("workflow %s: %w", b.def.ID, err)
			}
			if !ok {
				continue
			}
		}
		seen[b.def.ID] = struct{}{}
		out = append(out, b.def)
	}
	return out, nil
}

// Definitions returns every registered definition in registration order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, wid := range r.order {
		out = append(out, r.defs[wid])
	}
	return out
}

// CronBindings returns every cron trigger across all definitions.
func (r *Registry) CronBindings() []CronBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CronBinding, len(r.crons))
	copy(out, r.crons)
	return out
}
