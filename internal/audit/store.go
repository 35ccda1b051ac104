package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kestrel/internal/rule"
)

// ExecutedAction records one action outcome inside a firing entry.
type ExecutedAction struct {
	Type     rule.ActionType `json:"type"`
	DeviceID string          `json:"device_id,omitempty"`
	SensorID string          `json:"sensor_id,omitempty"`
	Value    string          `json:"value,omitempty"`
	UserIDs  []string        `json:"user_ids,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Entry is one rule firing. Expression and current value are stored in the
// deployment's default language; the per-language variants exist only for
// the notification path.
type Entry struct {
	ID           int64            `json:"id"`
	RuleID       string           `json:"rule_id"`
	RuleName     string           `json:"rule_name"`
	FiredAt      time.Time        `json:"fired_at"`
	Expression   string           `json:"expression"`
	CurrentValue string           `json:"current_value"`
	Actions      []ExecutedAction `json:"actions"`
}

// Store persists firing entries to PostgreSQL. The table is append-only;
// entries are never updated or deleted by the engine.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) LogFiring(ctx context.Context, entry *Entry) error {
	actions, err := json.Marshal(entry.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal executed actions: %w", err)
	}

	query := `
		INSERT INTO rule_firings (rule_id, rule_name, fired_at, expression, current_value, actions)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if err := s.db.QueryRowContext(ctx, query,
		entry.RuleID,
		entry.RuleName,
		entry.FiredAt,
		entry.Expression,
		entry.CurrentValue,
		actions,
	).Scan(&entry.ID); err != nil {
		return fmt.Errorf("failed to insert rule firing: %w", err)
	}
	return nil
}

func (s *Store) ListByRule(ctx context.Context, ruleID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, rule_id, rule_name, fired_at, expression, current_value, actions
		FROM rule_firings
		WHERE rule_id = $1
		ORDER BY fired_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule firings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var actions []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.RuleID,
			&entry.RuleName,
			&entry.FiredAt,
			&entry.Expression,
			&entry.CurrentValue,
			&actions,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule firing: %w", err)
		}
		if err := json.Unmarshal(actions, &entry.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal executed actions: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
