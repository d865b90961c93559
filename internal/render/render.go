// Package render fills message templates with per-contact variables.
//
// Placeholders have the form {{name}}. Whitespace inside the braces is
// ignored and names match case-insensitively. A placeholder with no value
// is left in the output verbatim.
package render

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/storage"
)

// ErrTemplateNotFound is returned when no template has the requested name.
var ErrTemplateNotFound = errors.New("render: template not found")

// Variable names computed from the contact and trigger.
const (
	VarFirstName    = "first_name"
	VarLastName     = "last_name"
	VarFullName     = "full_name"
	VarEmail        = "email"
	VarTriggerType  = "trigger_type"
	VarDashboardURL = "dashboard_url"
)

// identityVars cannot be supplied by callers.
var identityVars = map[string]bool{
	VarFirstName: true, VarLastName: true, VarFullName: true,
	VarEmail: true, VarTriggerType: true,
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// TemplateStore loads templates by name. It returns an error wrapping
// storage.ErrNotFound when the name is unknown.
type TemplateStore interface {
	GetTemplate(ctx context.Context, name string) (model.MessageTemplate, error)
}

// Renderer renders stored templates.
type Renderer struct {
	store TemplateStore
}

// New returns a Renderer reading from store.
func New(store TemplateStore) *Renderer {
	return &Renderer{store: store}
}

// Render loads the named template and substitutes vars into its subject
// and body.
func (r *Renderer) Render(ctx context.Context, name string, vars map[string]string) (model.RenderedMessage, error) {
	tmpl, err := r.store.GetTemplate(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.RenderedMessage{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
		}
		return model.RenderedMessage{}, fmt.Errorf("render: load template %q: %w", name, err)
	}
	return Apply(tmpl, vars), nil
}

// Apply substitutes vars into tmpl.
func Apply(tmpl model.MessageTemplate, vars map[string]string) model.RenderedMessage {
	lookup := foldKeys(vars)
	missing := map[string]bool{}
	out := model.RenderedMessage{
		TemplateName: tmpl.Name,
		Subject:      substitute(tmpl.Subject, lookup, missing),
		Body:         substitute(tmpl.Body, lookup, missing),
	}
	for k := range missing {
		out.Missing = append(out.Missing, k)
	}
	sort.Strings(out.Missing)
	return out
}

// Substitute replaces every {{name}} in text that has a value in vars.
func Substitute(text string, vars map[string]string) string {
	return substitute(text, foldKeys(vars), map[string]bool{})
}

func substitute(text string, lookup map[string]string, missing map[string]bool) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		key := strings.ToLower(placeholder.FindStringSubmatch(m)[1])
		if v, ok := lookup[key]; ok {
			return v
		}
		missing[key] = true
		return m
	})
}

// foldKeys lower-cases keys. When two keys fold to the same name the
// lexically smallest original key wins, so output never depends on map
// iteration order.
func foldKeys(vars map[string]string) map[string]string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(vars))
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, seen := out[lk]; !seen {
			out[lk] = vars[k]
		}
	}
	return out
}

// Vars builds the variable set for one contact. Caller supplied fields
// never replace the identity variables. dashboard_url defaults to
// <baseURL>/dashboard unless the caller supplies one.
func Vars(contact model.Contact, triggerType, baseURL string, fields map[string]string) map[string]string {
	vars := make(map[string]string, len(fields)+len(identityVars)+1)
	vars[VarDashboardURL] = strings.TrimRight(baseURL, "/") + "/dashboard"
	for k, v := range fields {
		if lk := strings.ToLower(k); !identityVars[lk] {
			vars[lk] = v
		}
	}

	first := contact.FirstName
	if first == "" {
		first, _, _ = strings.Cut(contact.Email, "@")
	}
	full := contact.FullName()
	if full == "" {
		full = first
	}

	vars[VarFirstName] = first
	vars[VarLastName] = contact.LastName
	vars[VarFullName] = full
	vars[VarEmail] = contact.Email
	vars[VarTriggerType] = triggerType
	return vars
}
