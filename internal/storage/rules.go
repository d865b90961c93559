package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mentora-platform/mentora/internal/model"
)

// CreateRule inserts a rule and its actions in one transaction.
func (db *DB) CreateRule(ctx context.Context, rule model.Rule) (model.Rule, error) {
	rule.ID = uuid.New()
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	err := WithRetry(ctx, 2, 20*time.Millisecond, func() error {
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`INSERT INTO automation_rules (id, trigger_type, name, is_active, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				rule.ID, rule.TriggerType, rule.Name, rule.IsActive, rule.CreatedAt, rule.UpdatedAt,
			); err != nil {
				return fmt.Errorf("insert rule: %w", err)
			}

			batch := &pgx.Batch{}
			for i := range rule.Actions {
				ra := &rule.Actions[i]
				ra.ID = uuid.New()
				typ, cfg, err := model.EncodeAction(ra.Action)
				if err != nil {
					return err
				}
				batch.Queue(
					`INSERT INTO automation_actions (id, rule_id, action_order, action_type, config)
					 VALUES ($1, $2, $3, $4, $5)`,
					ra.ID, rule.ID, ra.Order, string(typ), []byte(cfg),
				)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return model.Rule{}, fmt.Errorf("storage: create rule: duplicate action_order: %w", ErrConflict)
		}
		return model.Rule{}, fmt.Errorf("storage: create rule: %w", err)
	}
	return rule, nil
}

// GetRule returns a rule with its actions.
func (db *DB) GetRule(ctx context.Context, id uuid.UUID) (model.Rule, error) {
	var r model.Rule
	err := db.pool.QueryRow(ctx,
		`SELECT id, trigger_type, name, is_active, created_at, updated_at
		 FROM automation_rules WHERE id = $1`, id,
	).Scan(&r.ID, &r.TriggerType, &r.Name, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Rule{}, fmt.Errorf("storage: rule %s: %w", id, ErrNotFound)
		}
		return model.Rule{}, fmt.Errorf("storage: get rule: %w", err)
	}
	rules := []model.Rule{r}
	if err := db.loadActions(ctx, rules); err != nil {
		return model.Rule{}, err
	}
	return rules[0], nil
}

// ListActiveRules returns active rules for triggerType ordered by creation
// time, oldest first, with insertion sequence as the tie-break. Each rule's
// actions are sorted by ascending action_order.
func (db *DB) ListActiveRules(ctx context.Context, triggerType string) ([]model.Rule, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, trigger_type, name, is_active, created_at, updated_at
		 FROM automation_rules
		 WHERE trigger_type = $1 AND is_active
		 ORDER BY created_at ASC, seq ASC`, triggerType)
	if err != nil {
		return nil, fmt.Errorf("storage: list active rules: %w", err)
	}
	rules, err := scanRules(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list active rules: %w", err)
	}
	if err := db.loadActions(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// ListRules returns rules, optionally filtered by trigger type, in the same
// order the engine evaluates them.
func (db *DB) ListRules(ctx context.Context, triggerType string, limit, offset int) ([]model.Rule, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, trigger_type, name, is_active, created_at, updated_at
		 FROM automation_rules
		 WHERE ($1 = '' OR trigger_type = $1)
		 ORDER BY created_at ASC, seq ASC
		 LIMIT $2 OFFSET $3`, triggerType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list rules: %w", err)
	}
	rules, err := scanRules(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list rules: %w", err)
	}
	if err := db.loadActions(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SetRuleActive toggles whether the engine considers a rule.
func (db *DB) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (model.Rule, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE automation_rules SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return model.Rule{}, fmt.Errorf("storage: set rule active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Rule{}, fmt.Errorf("storage: rule %s: %w", id, ErrNotFound)
	}
	return db.GetRule(ctx, id)
}

func scanRules(rows pgx.Rows) ([]model.Rule, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Rule, error) {
		var r model.Rule
		err := row.Scan(&r.ID, &r.TriggerType, &r.Name, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
		return r, err
	})
}

// loadActions fills Actions for each rule with a single query.
func (db *DB) loadActions(ctx context.Context, rules []model.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(rules))
	index := make(map[uuid.UUID]int, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
		index[r.ID] = i
		rules[i].Actions = []model.RuleAction{}
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, rule_id, action_order, action_type, config
		 FROM automation_actions
		 WHERE rule_id = ANY($1)
		 ORDER BY rule_id, action_order ASC`, ids)
	if err != nil {
		return fmt.Errorf("storage: load actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, ruleID uuid.UUID
			order      int
			typ        string
			cfg        []byte
		)
		if err := rows.Scan(&id, &ruleID, &order, &typ, &cfg); err != nil {
			return fmt.Errorf("storage: scan action: %w", err)
		}
		i := index[ruleID]
		rules[i].Actions = append(rules[i].Actions, model.RuleAction{
			ID:     id,
			Order:  order,
			Action: model.DecodeStoredAction(typ, json.RawMessage(cfg)),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: load actions: %w", err)
	}
	for i := range rules {
		rules[i].SortActions()
	}
	return nil
}
