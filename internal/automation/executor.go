package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/notify"
	"github.com/mentora-platform/mentora/internal/render"
)

// UnknownActionError describes a stored action this build cannot run.
type UnknownActionError struct {
	Type string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action type %q", e.Type)
}

// ExecContext is the state threaded through one rule's actions. It is a
// value: each step receives a copy and returns the next version.
type ExecContext struct {
	ExecutionID uuid.UUID
	RuleID      uuid.UUID
	TriggerType string
	Identity    model.Identity
	Fields      map[string]string
	// ContactID is set only by a CreateContact step.
	ContactID *uuid.UUID
}

func (c ExecContext) withContact(id uuid.UUID) ExecContext {
	c.ContactID = &id
	return c
}

// ExecutorConfig tunes action execution.
type ExecutorConfig struct {
	BaseURL       string
	ActionTimeout time.Duration
	Redelivery    bool
}

// Executor runs the ordered actions of one rule.
type Executor struct {
	contacts   ContactStore
	renderer   Renderer
	dispatcher notify.Dispatcher
	messages   MessageLog
	logger     *slog.Logger
	cfg        ExecutorConfig

	skipped          metric.Int64Counter
	dispatchDuration metric.Float64Histogram
}

// NewExecutor wires an Executor.
func NewExecutor(contacts ContactStore, renderer Renderer, dispatcher notify.Dispatcher,
	messages MessageLog, logger *slog.Logger, cfg ExecutorConfig, meter metric.Meter,
) *Executor {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = notify.DefaultTimeout
	}
	skipped, _ := meter.Int64Counter("mentora.actions.skipped",
		metric.WithDescription("Actions skipped without failing their rule"))
	dispatchDur, _ := meter.Float64Histogram("mentora.dispatch.duration",
		metric.WithDescription("Time to hand a message to the provider (ms)"),
		metric.WithUnit("ms"))
	return &Executor{
		contacts:         contacts,
		renderer:         renderer,
		dispatcher:       dispatcher,
		messages:         messages,
		logger:           logger,
		cfg:              cfg,
		skipped:          skipped,
		dispatchDuration: dispatchDur,
	}
}

// Run executes actions in ascending order. Skipped steps never stop the
// rule; the first failed step does, and its error is returned.
func (x *Executor) Run(ctx context.Context, ec ExecContext, actions []model.RuleAction) (ExecContext, []model.StepOutcome, error) {
	steps := make([]model.StepOutcome, 0, len(actions))
	for _, ra := range actions {
		r := &stepRunner{
			x:       x,
			parent:  ctx,
			ec:      ec,
			outcome: model.StepOutcome{Order: ra.Order, Type: ra.Action.Type(), Status: model.StepOK},
		}
		var cancel context.CancelFunc
		r.ctx, cancel = context.WithTimeout(ctx, x.cfg.ActionTimeout)
		ra.Action.Accept(r)
		cancel()

		ec = r.ec
		steps = append(steps, r.outcome)
		if r.outcome.Status == model.StepSkipped {
			x.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(r.outcome.Type))))
		}
		if r.err != nil {
			return ec, steps, fmt.Errorf("action %d (%s): %w", ra.Order, ra.Action.Type(), r.err)
		}
	}
	return ec, steps, nil
}

// stepRunner executes exactly one action.
type stepRunner struct {
	x      *Executor
	ctx    context.Context // bounded by the action timeout
	parent context.Context // for audit writes that must outlive the timeout
	ec     ExecContext

	outcome model.StepOutcome
	err     error
}

var _ model.ActionVisitor = (*stepRunner)(nil)

func (r *stepRunner) skip(reason string) {
	r.outcome.Status = model.StepSkipped
	r.outcome.Detail = reason
	r.x.logger.Warn("automation: action skipped",
		"execution_id", r.ec.ExecutionID,
		"rule_id", r.ec.RuleID,
		"action_order", r.outcome.Order,
		"action_type", r.outcome.Type,
		"reason", reason,
	)
}

func (r *stepRunner) fail(err error) {
	r.outcome.Status = model.StepFailed
	r.outcome.Detail = err.Error()
	r.err = err
}

func (r *stepRunner) VisitCreateContact(model.CreateContact) {
	first, last := model.SplitDisplayName(r.ec.Identity.DisplayName)
	id, created, err := r.x.contacts.ResolveContact(r.ctx, model.ContactInput{
		Email:       r.ec.Identity.Email,
		FirstName:   first,
		LastName:    last,
		Source:      r.ec.TriggerType,
		IdentityRef: r.ec.Identity.ExternalID,
	})
	if err != nil {
		r.fail(err)
		return
	}
	r.ec = r.ec.withContact(id)
	if created {
		r.outcome.Detail = "contact created"
	} else {
		r.outcome.Detail = "existing contact"
	}
}

func (r *stepRunner) VisitAddTag(a model.AddTag) {
	if r.ec.ContactID == nil {
		r.skip("no contact resolved before add_tag")
		return
	}
	tagID, err := r.x.contacts.EnsureTag(r.ctx, a.TagName)
	if err != nil {
		r.fail(err)
		return
	}
	attached, err := r.x.contacts.AttachTag(r.ctx, *r.ec.ContactID, tagID)
	if err != nil {
		r.fail(err)
		return
	}
	if attached {
		r.outcome.Detail = fmt.Sprintf("tag %q attached", a.TagName)
	} else {
		r.outcome.Detail = fmt.Sprintf("tag %q already attached", a.TagName)
	}
}

func (r *stepRunner) VisitSendMessage(a model.SendMessage) {
	if r.ec.ContactID == nil {
		r.skip("no contact resolved before send_message")
		return
	}

	first, last := model.SplitDisplayName(r.ec.Identity.DisplayName)
	vars := render.Vars(model.Contact{
		Email:     r.ec.Identity.Email,
		FirstName: first,
		LastName:  last,
	}, r.ec.TriggerType, r.x.cfg.BaseURL, r.ec.Fields)

	msg, err := r.x.renderer.Render(r.ctx, a.TemplateName, vars)
	if err != nil {
		if errors.Is(err, render.ErrTemplateNotFound) {
			r.skip(fmt.Sprintf("template %q not found", a.TemplateName))
			return
		}
		r.fail(err)
		return
	}
	if len(msg.Missing) > 0 {
		r.x.logger.Warn("automation: template rendered with unresolved placeholders",
			"execution_id", r.ec.ExecutionID,
			"template", a.TemplateName,
			"missing", msg.Missing,
		)
	}

	execID := r.ec.ExecutionID
	out := model.OutboundMessage{
		ExecutionID:  &execID,
		ContactID:    r.ec.ContactID,
		TemplateName: a.TemplateName,
		To:           r.ec.Identity.Email,
		Subject:      msg.Subject,
		Body:         msg.Body,
		Tags:         map[string]string{"template": a.TemplateName, "trigger": r.ec.TriggerType},
	}

	start := time.Now()
	res, sendErr := r.x.dispatcher.Send(r.ctx, out)
	r.x.dispatchDuration.Record(r.parent, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Bool("ok", sendErr == nil)))

	entry := model.MessageLogEntry{
		ExecutionID:  out.ExecutionID,
		ContactID:    out.ContactID,
		TemplateName: a.TemplateName,
		Recipient:    out.To,
		Subject:      out.Subject,
		Attempt:      1,
	}
	if sendErr == nil {
		entry.Status = model.MessageSent
		entry.ProviderMessageID = &res.ProviderMessageID
	} else {
		errText := sendErr.Error()
		entry.Status = model.MessageFailed
		entry.Error = &errText
	}
	logID, logErr := r.x.messages.AppendMessageLog(r.parent, entry)
	if logErr != nil {
		r.x.logger.Error("automation: append message log", "error", logErr, "execution_id", execID)
	}

	if sendErr != nil {
		if r.x.cfg.Redelivery && logErr == nil {
			if err := r.x.messages.EnqueueRedelivery(r.parent, logID, out, sendErr.Error()); err != nil {
				r.x.logger.Error("automation: enqueue redelivery", "error", err, "execution_id", execID)
			}
		}
		r.fail(fmt.Errorf("send %q: %w", a.TemplateName, sendErr))
		return
	}
	r.outcome.Detail = "sent " + res.ProviderMessageID
}

func (r *stepRunner) VisitUnknown(a model.UnknownAction) {
	r.skip((&UnknownActionError{Type: a.RawType}).Error())
}
