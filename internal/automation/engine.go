// Package automation runs automation rules for trigger events.
//
// For each trigger the Engine loads the active rules, opens one execution
// record per rule and runs the rule's actions in order. Rules are isolated
// from one another: a failure or panic in one rule marks only its own
// execution failed.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/notify"
	"github.com/mentora-platform/mentora/internal/telemetry"
)

// ErrInvalidTrigger is returned for events missing a type or identity.
var ErrInvalidTrigger = errors.New("automation: invalid trigger")

// Config configures an Engine.
type Config struct {
	// BaseURL is the platform's public URL; dashboard links derive from it.
	BaseURL       string
	ActionTimeout time.Duration
	// Redelivery queues failed sends for background retry.
	Redelivery bool
}

// Engine processes trigger events.
type Engine struct {
	rules    RuleStore
	tracker  *Tracker
	executor *Executor
	logger   *slog.Logger
	tracer   trace.Tracer

	rulesExecuted metric.Int64Counter
}

// New wires an Engine over store.
func New(store Store, renderer Renderer, dispatcher notify.Dispatcher, logger *slog.Logger, cfg Config) *Engine {
	meter := telemetry.Meter("mentora/automation")
	executed, _ := meter.Int64Counter("mentora.rules.executed",
		metric.WithDescription("Rule executions by terminal status"))
	return &Engine{
		rules:   store,
		tracker: NewTracker(store, logger),
		executor: NewExecutor(store, renderer, dispatcher, store, logger, ExecutorConfig{
			BaseURL:       cfg.BaseURL,
			ActionTimeout: cfg.ActionTimeout,
			Redelivery:    cfg.Redelivery,
		}, meter),
		logger:        logger,
		tracer:        telemetry.Tracer("mentora/automation"),
		rulesExecuted: executed,
	}
}

// Process runs every active rule for ev. Rule failures are reported in the
// summary, not as an error; an error means nothing was processed.
//
// Once started, a trigger runs to completion even if ctx is cancelled.
// Each action is bounded by the configured action timeout instead.
func (e *Engine) Process(ctx context.Context, ev model.TriggerEvent) (model.Summary, error) {
	if err := ev.Validate(); err != nil {
		return model.Summary{}, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	ctx, span := e.tracer.Start(context.WithoutCancel(ctx), "automation.process_trigger",
		trace.WithAttributes(attribute.String("mentora.trigger_type", ev.TriggerType)))
	defer span.End()

	rules, err := e.rules.ListActiveRules(ctx, ev.TriggerType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list rules")
		return model.Summary{}, fmt.Errorf("automation: load rules for %q: %w", ev.TriggerType, err)
	}

	summary := model.Summary{RulesProcessed: len(rules), ExecutionIDs: []uuid.UUID{}}
	for _, rule := range rules {
		id, status := e.runRule(ctx, rule, ev)
		if id != uuid.Nil {
			summary.ExecutionIDs = append(summary.ExecutionIDs, id)
		}
		if status == model.ExecutionCompleted {
			summary.Completed++
		} else {
			summary.Failed++
		}
		e.rulesExecuted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	}

	span.SetAttributes(
		attribute.Int("mentora.rules_processed", summary.RulesProcessed),
		attribute.Int("mentora.rules_failed", summary.Failed),
	)
	e.logger.Info("automation: trigger processed",
		"trigger_type", ev.TriggerType,
		"rules_processed", summary.RulesProcessed,
		"completed", summary.Completed,
		"failed", summary.Failed,
	)
	return summary, nil
}

// runRule executes one rule inside its own execution record. It never
// panics and never returns an error; the outcome is the terminal status.
func (e *Engine) runRule(ctx context.Context, rule model.Rule, ev model.TriggerEvent) (execID uuid.UUID, status model.ExecutionStatus) {
	ctx, span := e.tracer.Start(ctx, "automation.rule",
		trace.WithAttributes(attribute.String("mentora.rule_id", rule.ID.String())))
	defer span.End()

	exec, err := e.tracker.Open(ctx, rule, ev.TriggerType)
	if err != nil {
		e.logger.Error("automation: could not open execution", "rule_id", rule.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "open execution")
		return uuid.Nil, model.ExecutionFailed
	}
	span.SetAttributes(attribute.String("mentora.execution_id", exec.ID.String()))

	ec := ExecContext{
		ExecutionID: exec.ID,
		RuleID:      rule.ID,
		TriggerType: ev.TriggerType,
		Identity:    ev.Identity,
		Fields:      ev.Fields,
	}

	defer func() {
		if p := recover(); p != nil {
			perr := fmt.Errorf("panic: %v", p)
			e.logger.Error("automation: rule panicked", "rule_id", rule.ID, "execution_id", exec.ID, "panic", p)
			span.RecordError(perr)
			span.SetStatus(codes.Error, "panic")
			if err := e.tracker.Fail(ctx, exec.ID, ec.ContactID, perr, nil); err != nil {
				e.logger.Error("automation: finalize after panic", "execution_id", exec.ID, "error", err)
			}
			execID, status = exec.ID, model.ExecutionFailed
		}
	}()

	ec, steps, runErr := e.executor.Run(ctx, ec, rule.Actions)
	if runErr != nil {
		e.logger.Warn("automation: rule failed",
			"rule_id", rule.ID, "execution_id", exec.ID, "error", runErr)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "rule failed")
		if err := e.tracker.Fail(ctx, exec.ID, ec.ContactID, runErr, steps); err != nil {
			e.logger.Error("automation: finalize failed execution", "execution_id", exec.ID, "error", err)
		}
		return exec.ID, model.ExecutionFailed
	}

	if err := e.tracker.Complete(ctx, exec.ID, ec.ContactID, steps); err != nil {
		e.logger.Error("automation: finalize completed execution", "execution_id", exec.ID, "error", err)
		return exec.ID, model.ExecutionFailed
	}
	return exec.ID, model.ExecutionCompleted
}
