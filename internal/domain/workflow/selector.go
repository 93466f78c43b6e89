package workflow

import (
	"sort"
	"strings"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// Select picks the single transition leaving fromStateID on eventName whose
// guard passes against ctx. Transitions without a guard always pass.
// No survivor is ErrInvalidTransition; more than one is ErrAmbiguousTransition.
func (g *Graph) Select(fromStateID, eventName string, ctx map[string]interface{}) (*entity.WorkflowTransition, error) {
	var candidates, passing []*entity.WorkflowTransition
	for _, t := range g.outgoing[fromStateID] {
		if t.EventName != eventName {
			continue
		}
		candidates = append(candidates, t)
		if GuardPasses(t.Guard, ctx) {
			passing = append(passing, t)
		}
	}

	switch len(passing) {
	case 1:
		return passing[0], nil
	case 0:
		if len(candidates) == 0 {
			return nil, Errorf(ErrInvalidTransition, "no transition for event %q from state %s", eventName, g.stateName(fromStateID))
		}
		return nil, Errorf(ErrInvalidTransition, "guards rejected all %d transitions for event %q from state %s", len(candidates), eventName, g.stateName(fromStateID))
	default:
		ids := make([]string, 0, len(passing))
		for _, t := range passing {
			ids = append(ids, t.ID)
		}
		return nil, Errorf(ErrAmbiguousTransition, "event %q from state %s matches transitions [%s]", eventName, g.stateName(fromStateID), strings.Join(ids, ", "))
	}
}

// AvailableEvents lists, sorted, the event names that would select exactly one
// transition from fromStateID with the given context
func (g *Graph) AvailableEvents(fromStateID string, ctx map[string]interface{}) []string {
	passing := make(map[string]int)
	for _, t := range g.outgoing[fromStateID] {
		if GuardPasses(t.Guard, ctx) {
			passing[t.EventName]++
		}
	}
	events := make([]string, 0, len(passing))
	for name, n := range passing {
		if n == 1 {
			events = append(events, name)
		}
	}
	sort.Strings(events)
	return events
}

// GuardPasses evaluates a guard against a fire-time context. A nil guard passes;
// a guard whose field is missing from the context fails.
func GuardPasses(guard *entity.Guard, ctx map[string]interface{}) bool {
	if guard == nil {
		return true
	}
	value, ok := Lookup(ctx, guard.Field)
	if !ok {
		return false
	}
	return Evaluate(ConditionType(guard.Condition), value, guard.Value)
}

// Lookup resolves a dot-separated path inside nested maps
func Lookup(ctx map[string]interface{}, path string) (interface{}, bool) {
	if ctx == nil || path == "" {
		return nil, false
	}
	var current interface{} = ctx
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func (g *Graph) stateName(id string) string {
	if s, ok := g.states[id]; ok {
		return s.Name
	}
	return id
}
