package model

import "fmt"

// Condition operators
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpLt       = "lt"
	OpLte      = "lte"
	OpGt       = "gt"
	OpGte      = "gte"
	OpIn       = "in"
	OpContains = "contains"
	OpExists   = "exists"
)

var knownOperators = map[string]bool{
	OpEq: true, OpNeq: true, OpLt: true, OpLte: true, OpGt: true,
	OpGte: true, OpIn: true, OpContains: true, OpExists: true,
}

// Condition is a predicate over one field of the entity snapshot
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Conditions are combined with AND in declaration order
type Conditions []Condition

// Validate checks operators and required operands
func (cs Conditions) Validate() error {
	for i, c := range cs {
		if c.Field == "" {
			return fmt.Errorf("condition %d: field is required", i)
		}
		if !knownOperators[c.Operator] {
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
		if c.Operator == OpIn {
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("condition %d: operator in expects a list", i)
			}
		}
	}
	return nil
}
