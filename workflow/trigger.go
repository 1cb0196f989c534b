package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/orquesta/orquesta/event"
)

// condition is a compiled Trigger.If expression.
type condition struct {
	source  string
	program *vm.Program
}

func compileCondition(source string) (*condition, error) {
	program, err := expr.Compile(source,
		expr.Env(map[string]any{"event": map[string]any{}}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile trigger condition %q: %w", source, err)
	}
	return &condition{source: source, program: program}, nil
}

// match evaluates the condition against evt. A payload that is not a
// JSON object is exposed as event.data unchanged.
func (c *condition) match(evt *event.Event) (bool, error) {
	var data any
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &data); err != nil {
			return false, fmt.Errorf("decode payload of event %s: %w", evt.ID, err)
		}
	}
	env := map[string]any{
		"event": map[string]any{
			"id":   evt.ID.String(),
			"name": evt.Name,
			"data": data,
		},
	}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate trigger condition %q: %w", c.source, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}
