package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType is the stored discriminator of an automation action.
type ActionType string

const (
	ActionCreateContact ActionType = "create_contact"
	ActionAddTag        ActionType = "add_tag"
	ActionSendMessage   ActionType = "send_message"
)

// MaxTagNameLen bounds tag names to keep the tags table tidy.
const MaxTagNameLen = 100

// Action is one typed unit of work within a rule.
//
// The set of implementations is closed: only the variants in this file
// satisfy the interface. Consumers dispatch through Accept, so adding a
// variant adds a method to ActionVisitor and every visitor stops compiling
// until it handles the new case.
type Action interface {
	Type() ActionType
	Accept(v ActionVisitor)
	sealed()
}

// ActionVisitor receives exactly one call per Accept.
type ActionVisitor interface {
	VisitCreateContact(CreateContact)
	VisitAddTag(AddTag)
	VisitSendMessage(SendMessage)
	VisitUnknown(UnknownAction)
}

// CreateContact resolves (or creates) the contact for the trigger identity.
type CreateContact struct{}

// AddTag attaches a named tag to the contact resolved earlier in the rule.
type AddTag struct {
	TagName string `json:"tag_name"`
}

// SendMessage renders a named template and dispatches it to the contact.
type SendMessage struct {
	TemplateName string `json:"template_name"`
}

// UnknownAction preserves a stored action whose type this build does not
// recognise. The executor skips it with a diagnostic.
type UnknownAction struct {
	RawType string          `json:"action_type"`
	Config  json.RawMessage `json:"config,omitempty"`
}

func (CreateContact) Type() ActionType { return ActionCreateContact }
func (AddTag) Type() ActionType        { return ActionAddTag }
func (SendMessage) Type() ActionType   { return ActionSendMessage }
func (u UnknownAction) Type() ActionType {
	return ActionType(u.RawType)
}

func (a CreateContact) Accept(v ActionVisitor) { v.VisitCreateContact(a) }
func (a AddTag) Accept(v ActionVisitor)        { v.VisitAddTag(a) }
func (a SendMessage) Accept(v ActionVisitor)   { v.VisitSendMessage(a) }
func (a UnknownAction) Accept(v ActionVisitor) { v.VisitUnknown(a) }

func (CreateContact) sealed() {}
func (AddTag) sealed()        {}
func (SendMessage) sealed()   {}
func (UnknownAction) sealed() {}

// ParseAction builds a validated action from its wire form. Unknown types
// are rejected; use DecodeStoredAction for rows already in the database.
func ParseAction(actionType string, config json.RawMessage) (Action, error) {
	switch ActionType(actionType) {
	case ActionCreateContact:
		return CreateContact{}, nil
	case ActionAddTag:
		var a AddTag
		if err := unmarshalConfig(config, &a); err != nil {
			return nil, fmt.Errorf("add_tag config: %w", err)
		}
		a.TagName = strings.TrimSpace(a.TagName)
		if a.TagName == "" {
			return nil, &ValidationError{Field: "config.tag_name", Message: "is required for add_tag"}
		}
		if len(a.TagName) > MaxTagNameLen {
			return nil, &ValidationError{Field: "config.tag_name", Message: fmt.Sprintf("exceeds %d characters", MaxTagNameLen)}
		}
		return a, nil
	case ActionSendMessage:
		var a SendMessage
		if err := unmarshalConfig(config, &a); err != nil {
			return nil, fmt.Errorf("send_message config: %w", err)
		}
		a.TemplateName = strings.TrimSpace(a.TemplateName)
		if a.TemplateName == "" {
			return nil, &ValidationError{Field: "config.template_name", Message: "is required for send_message"}
		}
		return a, nil
	default:
		return nil, &ValidationError{Field: "action_type", Message: fmt.Sprintf("unknown action type %q", actionType)}
	}
}

// DecodeStoredAction is the lenient counterpart of ParseAction used when
// reading rules. A row that fails to parse becomes an UnknownAction so a
// single bad row never hides the rest of the rule.
func DecodeStoredAction(actionType string, config json.RawMessage) Action {
	a, err := ParseAction(actionType, config)
	if err != nil {
		return UnknownAction{RawType: actionType, Config: config}
	}
	return a
}

// EncodeAction returns the stored discriminator and JSON config for a.
func EncodeAction(a Action) (ActionType, json.RawMessage, error) {
	var cfg any
	switch v := a.(type) {
	case CreateContact:
		cfg = struct{}{}
	case AddTag:
		cfg = v
	case SendMessage:
		cfg = v
	case UnknownAction:
		if len(v.Config) == 0 {
			return v.Type(), json.RawMessage(`{}`), nil
		}
		return v.Type(), v.Config, nil
	default:
		return "", nil, fmt.Errorf("encode action: unsupported %T", a)
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", nil, fmt.Errorf("encode action: %w", err)
	}
	return a.Type(), b, nil
}

func unmarshalConfig(config json.RawMessage, target any) error {
	if len(config) == 0 || string(config) == "null" {
		return nil
	}
	return json.Unmarshal(config, target)
}
