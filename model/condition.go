package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Condition operators.
const (
	OpGte = "gte"
	OpLte = "lte"
	OpEq  = "eq"
	OpIn  = "in"
)

// opAliases maps the operator spellings accepted in stored JSON conditions
// to their canonical names.
var opAliases = map[string]string{
	">=": OpGte, "gte": OpGte,
	"<=": OpLte, "lte": OpLte,
	"==": OpEq, "=": OpEq, "eq": OpEq,
	"in": OpIn,
}

// Condition is an in-process predicate tree evaluated against a typed
// context, with no database round-trip. A node is either a branch (All/Any)
// or a leaf (Field/Op/Value).
type Condition struct {
	All   []Condition `json:"all,omitempty"`
	Any   []Condition `json:"any,omitempty"`
	Field string      `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value any         `json:"value,omitempty"`
}

// ConditionContext is the typed evaluation context a condition runs against:
// the pending entity's data snapshot, the acting user, and the actor's
// resolved branch.
type ConditionContext struct {
	Entity map[string]any
	Actor  ConditionActor
	Branch ConditionBranch
}

// ConditionActor describes the acting user for condition evaluation.
type ConditionActor struct {
	ID    string
	Roles []string
}

// ConditionBranch describes the actor's resolved branch/location.
type ConditionBranch struct {
	ID int64
}

// Evaluate returns whether the condition holds for the given context. It is
// a pure function of the condition and the context.
func (c *Condition) Evaluate(cctx ConditionContext) bool {
	if c == nil {
		return true
	}
	if len(c.All) > 0 {
		for i := range c.All {
			if !c.All[i].Evaluate(cctx) {
				return false
			}
		}
		return true
	}
	if len(c.Any) > 0 {
		for i := range c.Any {
			if c.Any[i].Evaluate(cctx) {
				return true
			}
		}
		return false
	}
	return evaluateLeaf(c.Field, c.Op, c.Value, cctx)
}

// evaluateLeaf resolves the field against the context and applies the
// operator. Unknown fields and unknown operators evaluate to false.
func evaluateLeaf(field, op string, want any, cctx ConditionContext) bool {
	got, ok := lookupField(field, cctx)
	if !ok {
		return false
	}

	switch op {
	case OpGte:
		a, aok := toFloat(got)
		b, bok := toFloat(want)
		return aok && bok && a >= b
	case OpLte:
		a, aok := toFloat(got)
		b, bok := toFloat(want)
		return aok && bok && a <= b
	case OpEq:
		return valuesEqual(got, want)
	case OpIn:
		items, ok := want.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if valuesEqual(got, item) {
				return true
			}
		}
		// Role membership: "actor.roles in [...]" matches when any of the
		// actor's roles is listed.
		if roles, ok := got.([]string); ok {
			for _, role := range roles {
				for _, item := range items {
					if valuesEqual(role, item) {
						return true
					}
				}
			}
		}
		return false
	default:
		return false
	}
}

// lookupField resolves a condition field path. "actor.*" and "branch.*"
// address the typed context; anything else navigates the entity data
// snapshot.
func lookupField(field string, cctx ConditionContext) (any, bool) {
	switch field {
	case "actor.id":
		return cctx.Actor.ID, true
	case "actor.roles":
		return cctx.Actor.Roles, true
	case "branch.id":
		return cctx.Branch.ID, true
	}

	var current any = cctx.Entity
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
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

// valuesEqual compares two values, numerically when both are numbers.
func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// toFloat coerces the numeric types that appear in decoded JSON and in the
// typed context.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ParseCondition decodes a stored JSON condition into a predicate tree.
// Accepted forms:
//
//	{"and": [cond, ...]}              — conjunction
//	{"or":  [cond, ...]}              — disjunction
//	{"monto": {">=": 5000}}           — leaf, operator object per field
//	{"estado": "borrador"}            — leaf shorthand for equality
//
// Multiple fields (or multiple operators on one field) in a single object
// form an implicit conjunction. A nil or empty document parses to nil, which
// evaluates to true.
func ParseCondition(data []byte) (*Condition, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse condition: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return parseObject(raw)
}

func parseObject(raw map[string]json.RawMessage) (*Condition, error) {
	var leaves []Condition

	// Deterministic traversal order.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case "and", "or":
			var children []map[string]json.RawMessage
			if err := json.Unmarshal(raw[key], &children); err != nil {
				return nil, fmt.Errorf("parse condition %q: %w", key, err)
			}
			branch := Condition{}
			for _, child := range children {
				c, err := parseObject(child)
				if err != nil {
					return nil, err
				}
				if c == nil {
					continue
				}
				if key == "and" {
					branch.All = append(branch.All, *c)
				} else {
					branch.Any = append(branch.Any, *c)
				}
			}
			leaves = append(leaves, branch)
		default:
			fieldLeaves, err := parseFieldLeaves(key, raw[key])
			if err != nil {
				return nil, err
			}
			leaves = append(leaves, fieldLeaves...)
		}
	}

	if len(leaves) == 0 {
		return nil, nil
	}
	if len(leaves) == 1 {
		return &leaves[0], nil
	}
	return &Condition{All: leaves}, nil
}

// parseFieldLeaves decodes one field entry: either an operator object or a
// bare scalar shorthand for equality.
func parseFieldLeaves(field string, data json.RawMessage) ([]Condition, error) {
	var ops map[string]any
	if err := json.Unmarshal(data, &ops); err == nil {
		keys := make([]string, 0, len(ops))
		for k := range ops {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		leaves := make([]Condition, 0, len(keys))
		for _, opKey := range keys {
			op, ok := opAliases[opKey]
			if !ok {
				return nil, fmt.Errorf("parse condition: unknown operator %q for field %q", opKey, field)
			}
			leaves = append(leaves, Condition{Field: field, Op: op, Value: ops[opKey]})
		}
		return leaves, nil
	}

	var scalar any
	if err := json.Unmarshal(data, &scalar); err != nil {
		return nil, fmt.Errorf("parse condition: invalid value for field %q: %w", field, err)
	}
	return []Condition{{Field: field, Op: OpEq, Value: scalar}}, nil
}
