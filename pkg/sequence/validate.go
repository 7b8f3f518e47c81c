package sequence

import (
	"fmt"
	"strings"
)

// Violation is one broken rule. StepIndex is 1-based; 0 means the rule
// applies to the sequence as a whole.
type Violation struct {
	StepIndex int    `json:"step_index,omitempty"`
	Field     string `json:"field"`
	Message   string `json:"message"`
}

func (v Violation) String() string {
	if v.StepIndex > 0 {
		return fmt.Sprintf("step %d: %s", v.StepIndex, v.Message)
	}
	return v.Message
}

// Violations is the full result of Validate. It satisfies error so it can
// travel as the cause of a validation error.
type Violations []Violation

func (vs Violations) Error() string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// Strings renders every violation.
func (vs Violations) Strings() []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

// Validate checks a sequence and returns every violation, in rule order.
// An empty result means the sequence may be saved.
func Validate(s *Sequence) Violations {
	var vs Violations

	if strings.TrimSpace(s.Name) == "" {
		vs = append(vs, Violation{Field: "name", Message: "name is required"})
	}

	if len(s.Steps) == 0 {
		vs = append(vs, Violation{Field: "steps", Message: "at least one step is required"})
	}

	for i, step := range s.Steps {
		idx := i + 1
		if step.DayOffset < 0 {
			vs = append(vs, Violation{StepIndex: idx, Field: "day_offset", Message: "day offset must be a non-negative integer"})
		}
		if step.ActionType == ActionTask && strings.TrimSpace(step.TaskTitle) == "" {
			vs = append(vs, Violation{StepIndex: idx, Field: "task_title", Message: "task title is required"})
		}
	}

	for i, step := range s.Steps {
		if !step.ActionType.Valid() {
			vs = append(vs, Violation{StepIndex: i + 1, Field: "action_type", Message: fmt.Sprintf("unknown action type %q", step.ActionType)})
		}
	}

	seen := make(map[string]int)
	for i, step := range s.Steps {
		if step.ID == "" {
			continue
		}
		if first, dup := seen[step.ID]; dup {
			vs = append(vs, Violation{StepIndex: i + 1, Field: "id", Message: fmt.Sprintf("step id %q duplicates step %d", step.ID, first)})
			continue
		}
		seen[step.ID] = i + 1
	}

	return vs
}
