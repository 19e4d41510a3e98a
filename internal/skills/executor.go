package skills

import (
	"fmt"
	"sort"

	"github.com/energizer-project/realmcore/internal/world"
)

// Executor runs an ability or style.
type Executor interface {
	Execute(actor, target *world.Actor, skill Skill) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(actor, target *world.Actor, skill Skill) error

func (f ExecutorFunc) Execute(actor, target *world.Actor, skill Skill) error {
	return f(actor, target, skill)
}

// Executors is a registry of executors keyed by name.
type Executors struct {
	byName map[string]Executor
}

// NewExecutors creates an empty registry.
func NewExecutors() *Executors {
	return &Executors{byName: make(map[string]Executor)}
}

// Register adds or replaces an executor.
func (r *Executors) Register(name string, e Executor) {
	r.byName[name] = e
}

// Names returns the registered executor names.
func (r *Executors) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs the executor named by skill. Unknown executors answer with the
// not-implemented message.
func (r *Executors) Execute(actor, target *world.Actor, skill Skill) error {
	e, ok := r.byName[skill.Executor]
	if !ok {
		return &UserError{
			Err:     fmt.Errorf("executor %q: %w", skill.Executor, ErrSkillNotResolved),
			Message: MsgSkillNotImplemented,
		}
	}
	return e.Execute(actor, target, skill)
}

// DefaultExecutors registers the built-in abilities.
func DefaultExecutors() *Executors {
	r := NewExecutors()
	r.Register("sprint", ExecutorFunc(func(actor, _ *world.Actor, _ Skill) error {
		actor.Endurance = max(actor.Endurance-10, 0)
		return nil
	}))
	r.Register("stealth", ExecutorFunc(func(actor, _ *world.Actor, _ Skill) error {
		actor.Stealthed = !actor.Stealthed
		return nil
	}))
	r.Register("taunt", ExecutorFunc(func(actor, target *world.Actor, skill Skill) error {
		if target == nil || !target.Alive() {
			return &UserError{
				Err:     fmt.Errorf("taunt: %w", ErrSkillNotResolved),
				Message: "You must select a target for this ability!",
			}
		}
		target.TargetID = actor.ID
		return nil
	}))
	return r
}
