package database

import (
	"context"
	"fmt"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

// RecordActuation appends one attempt to the journal.
func (d *Database) RecordActuation(ctx context.Context, ev models.ActuationEvent) error {
	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO actuations (id, session_id, class, confidence, command, outcome, error, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID,
		ev.SessionID,
		ev.Class,
		ev.Confidence,
		int16(ev.Command),
		string(ev.Outcome),
		ev.Error,
		ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record actuation: %w", err)
	}
	return nil
}

// ListActuations returns the newest journal rows first.
func (d *Database) ListActuations(ctx context.Context, limit int) ([]models.ActuationEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, session_id, class, confidence, command, outcome, error, occurred_at
		FROM actuations
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list actuations: %w", err)
	}
	defer rows.Close()

	events := []models.ActuationEvent{}
	for rows.Next() {
		var (
			ev      models.ActuationEvent
			command int16
			outcome string
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.SessionID,
			&ev.Class,
			&ev.Confidence,
			&command,
			&outcome,
			&ev.Error,
			&ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		ev.Command = models.Command(command)
		ev.Outcome = models.Outcome(outcome)
		events = append(events, ev)
	}

	return events, rows.Err()
}
