package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field limits for rule definitions.
const (
	MaxTriggerTypeLen = 100
	MaxRuleNameLen    = 200
	MaxActionsPerRule = 50
)

// Rule is an automation rule: a trigger type bound to an ordered list of
// actions. The engine only ever reads rules.
type Rule struct {
	ID          uuid.UUID    `json:"id"`
	TriggerType string       `json:"trigger_type"`
	Name        string       `json:"name"`
	IsActive    bool         `json:"is_active"`
	Actions     []RuleAction `json:"actions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RuleAction is an action bound to its position within a rule.
type RuleAction struct {
	ID     uuid.UUID `json:"id"`
	Order  int       `json:"action_order"`
	Action Action    `json:"-"`
}

// SortActions orders a rule's actions by ascending action_order.
func (r *Rule) SortActions() {
	sort.SliceStable(r.Actions, func(i, j int) bool {
		return r.Actions[i].Order < r.Actions[j].Order
	})
}

// MarshalJSON renders the action in its stored shape.
func (ra RuleAction) MarshalJSON() ([]byte, error) {
	typ, cfg, err := EncodeAction(ra.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		ID     uuid.UUID       `json:"id"`
		Order  int             `json:"action_order"`
		Type   ActionType      `json:"action_type"`
		Config json.RawMessage `json:"config"`
	}{ra.ID, ra.Order, typ, cfg})
}

// ActionInput is the wire form of an action in rule creation requests.
type ActionInput struct {
	Order  int             `json:"action_order"`
	Type   string          `json:"action_type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// CreateRuleRequest is the request body for POST /v1/rules.
type CreateRuleRequest struct {
	TriggerType string        `json:"trigger_type"`
	Name        string        `json:"name"`
	IsActive    *bool         `json:"is_active,omitempty"`
	Actions     []ActionInput `json:"actions"`
}

// UpdateRuleRequest is the request body for PATCH /v1/rules/{id}.
type UpdateRuleRequest struct {
	IsActive *bool `json:"is_active"`
}

// ValidateTriggerType checks a trigger type name. Trigger types are opaque
// identifiers; only emptiness and length are enforced.
func ValidateTriggerType(t string) error {
	if strings.TrimSpace(t) == "" {
		return &ValidationError{Field: "trigger_type", Message: "is required"}
	}
	if len(t) > MaxTriggerTypeLen {
		return &ValidationError{Field: "trigger_type", Message: fmt.Sprintf("exceeds %d characters", MaxTriggerTypeLen)}
	}
	return nil
}

// BuildRule validates a creation request and returns the rule to persist.
// Action orders must be unique within the rule.
func (req CreateRuleRequest) BuildRule() (Rule, error) {
	if err := ValidateTriggerType(req.TriggerType); err != nil {
		return Rule{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Rule{}, &ValidationError{Field: "name", Message: "is required"}
	}
	if len(name) > MaxRuleNameLen {
		return Rule{}, &ValidationError{Field: "name", Message: fmt.Sprintf("exceeds %d characters", MaxRuleNameLen)}
	}
	if len(req.Actions) == 0 {
		return Rule{}, &ValidationError{Field: "actions", Message: "at least one action is required"}
	}
	if len(req.Actions) > MaxActionsPerRule {
		return Rule{}, &ValidationError{Field: "actions", Message: fmt.Sprintf("at most %d actions allowed", MaxActionsPerRule)}
	}

	rule := Rule{
		TriggerType: req.TriggerType,
		Name:        name,
		IsActive:    true,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	seen := make(map[int]bool, len(req.Actions))
	for i, in := range req.Actions {
		if seen[in.Order] {
			return Rule{}, &ValidationError{
				Field:   fmt.Sprintf("actions[%d].action_order", i),
				Message: fmt.Sprintf("duplicate action_order %d", in.Order),
			}
		}
		seen[in.Order] = true
		a, err := ParseAction(in.Type, in.Config)
		if err != nil {
			return Rule{}, prefixValidation(fmt.Sprintf("actions[%d]", i), err)
		}
		rule.Actions = append(rule.Actions, RuleAction{Order: in.Order, Action: a})
	}
	rule.SortActions()
	return rule, nil
}
