package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"koi-auction/internal/domain"
	"koi-auction/internal/saga"
)

const sagaSchema = `
CREATE TABLE IF NOT EXISTS saga_runs (
    id          VARCHAR(64)  NOT NULL PRIMARY KEY,
    name        VARCHAR(64)  NOT NULL,
    state       VARCHAR(32)  NOT NULL,
    metadata    JSON         NULL,
    failed_step VARCHAR(64)  NOT NULL DEFAULT '',
    error       TEXT         NULL,
    pending     JSON         NULL,
    attempts    INT          NOT NULL DEFAULT 0,
    created_at  DATETIME(6)  NOT NULL,
    updated_at  DATETIME(6)  NOT NULL,
    INDEX idx_saga_runs_state (state, created_at)
);
CREATE TABLE IF NOT EXISTS saga_events (
    id      BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
    run_id  VARCHAR(64)  NOT NULL,
    at      DATETIME(6)  NOT NULL,
    kind    VARCHAR(32)  NOT NULL,
    step    VARCHAR(64)  NOT NULL DEFAULT '',
    message TEXT         NULL,
    INDEX idx_saga_events_run (run_id, id)
);`

// MySQLSagaRepository is the durable saga.LogStore. Failed compensations must
// survive a restart so the repair job can replay them.
type MySQLSagaRepository struct {
	db *sql.DB
}

func NewMySQLSagaRepository(db *sql.DB) *MySQLSagaRepository {
	return &MySQLSagaRepository{db: db}
}

func (r *MySQLSagaRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range splitStatements(sagaSchema) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply saga schema: %w", err)
		}
	}
	return nil
}

func (r *MySQLSagaRepository) SaveRun(ctx context.Context, run *saga.Run) error {
	metadata, pending, err := encodeRun(run)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO saga_runs (id, name, state, metadata, failed_step, error, pending, attempts, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.Name, string(run.State), metadata, run.FailedStep, run.Error,
		pending, run.Attempts, run.CreatedAt, run.UpdatedAt)
	return err
}

func (r *MySQLSagaRepository) UpdateRun(ctx context.Context, run *saga.Run) error {
	metadata, pending, err := encodeRun(run)
	if err != nil {
		return err
	}

	query := `
        UPDATE saga_runs
        SET state = ?, metadata = ?, failed_step = ?, error = ?, pending = ?, attempts = ?, updated_at = ?
        WHERE id = ?
    `
	res, err := r.db.ExecContext(ctx, query,
		string(run.State), metadata, run.FailedStep, run.Error, pending, run.Attempts, run.UpdatedAt, run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("saga run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *MySQLSagaRepository) AppendEvent(ctx context.Context, runID string, event saga.Event) error {
	query := `INSERT INTO saga_events (run_id, at, kind, step, message) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, runID, event.At, string(event.Kind), event.Step, event.Message)
	return err
}

func (r *MySQLSagaRepository) GetRun(ctx context.Context, id string) (*saga.Run, error) {
	query := `
        SELECT id, name, state, metadata, failed_step, error, pending, attempts, created_at, updated_at
        FROM saga_runs WHERE id = ?
    `
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("saga run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	events, err := r.listEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Events = events
	return run, nil
}

func (r *MySQLSagaRepository) ListRuns(ctx context.Context, state saga.State, limit int) ([]*saga.Run, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
        SELECT id, name, state, metadata, failed_step, error, pending, attempts, created_at, updated_at
        FROM saga_runs
    `
	args := []interface{}{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*saga.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (r *MySQLSagaRepository) listEvents(ctx context.Context, runID string) ([]saga.Event, error) {
	query := `SELECT at, kind, step, message FROM saga_events WHERE run_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []saga.Event
	for rows.Next() {
		var e saga.Event
		var kind string
		var message sql.NullString
		if err := rows.Scan(&e.At, &kind, &e.Step, &message); err != nil {
			return nil, err
		}
		e.Kind = saga.EventKind(kind)
		e.Message = message.String
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*saga.Run, error) {
	var run saga.Run
	var state string
	var metadata, errMsg, pending sql.NullString

	err := row.Scan(&run.ID, &run.Name, &state, &metadata, &run.FailedStep, &errMsg,
		&pending, &run.Attempts, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.State = saga.State(state)
	run.Error = errMsg.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &run.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode saga metadata: %w", err)
		}
	}
	if pending.Valid && pending.String != "" {
		if err := json.Unmarshal([]byte(pending.String), &run.Pending); err != nil {
			return nil, fmt.Errorf("failed to decode pending compensations: %w", err)
		}
	}
	return &run, nil
}

func encodeRun(run *saga.Run) (metadata, pending []byte, err error) {
	if metadata, err = json.Marshal(run.Metadata); err != nil {
		return nil, nil, err
	}
	if pending, err = json.Marshal(run.Pending); err != nil {
		return nil, nil, err
	}
	return metadata, pending, nil
}

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
