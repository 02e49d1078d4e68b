package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"goalline/internal/domain"
)

// Repo persists goal aggregates snapshot-per-write, with the timeline kept
// in an append-only table and checkpoints as immutable rows.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// SaveGoal writes the full goal snapshot and appends the given timeline
// events in one transaction. The stored events (with ids assigned) are
// returned in append order.
func (r Repo) SaveGoal(ctx context.Context, g *domain.ProjectGoal, events ...domain.TimelineEvent) ([]domain.TimelineEvent, error) {
	snapshot := *g
	snapshot.Timeline = nil
	payload, err := json.Marshal(&snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal goal snapshot: %w", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO goals(id,title,status,parent_id,snapshot_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, status=excluded.status, parent_id=excluded.parent_id,
snapshot_json=excluded.snapshot_json, updated_at=excluded.updated_at`,
		g.ID, g.Title, string(g.Status), nullable(g.ParentGoalID), string(payload),
		g.CreatedAt.UTC().Format(time.RFC3339), g.UpdatedAt.UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("upsert goal: %w", err)
	}
	stored := make([]domain.TimelineEvent, 0, len(events))
	for _, evt := range events {
		if evt.At.IsZero() {
			evt.At = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO timeline_events(goal_id,ts,type,description,related_id) VALUES (?,?,?,?,?)`,
			g.ID, evt.At.UTC().Format(time.RFC3339Nano), string(evt.Type), evt.Description, nullable(evt.RelatedID))
		if err != nil {
			return nil, fmt.Errorf("append timeline event: %w", err)
		}
		evt.GoalID = g.ID
		evt.ID, _ = res.LastInsertId()
		stored = append(stored, evt)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// GetGoal loads the goal snapshot and its full timeline.
func (r Repo) GetGoal(ctx context.Context, id string) (*domain.ProjectGoal, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT snapshot_json FROM goals WHERE id=?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var g domain.ProjectGoal
	if err := json.Unmarshal([]byte(payload), &g); err != nil {
		return nil, fmt.Errorf("unmarshal goal snapshot: %w", err)
	}
	g.Timeline, err = r.ListTimeline(ctx, id, 0, "")
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGoals returns goal snapshots without timelines, newest first.
func (r Repo) ListGoals(ctx context.Context) ([]domain.ProjectGoal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT snapshot_json FROM goals ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectGoal
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var g domain.ProjectGoal
		if err := json.Unmarshal([]byte(payload), &g); err != nil {
			return nil, fmt.Errorf("unmarshal goal snapshot: %w", err)
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// DeleteGoal removes the goal; timeline and checkpoints cascade.
func (r Repo) DeleteGoal(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM goals WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTimeline returns events for a goal in append order. A limit of 0
// means all; evtType filters when non-empty.
func (r Repo) ListTimeline(ctx context.Context, goalID string, limit int, evtType string) ([]domain.TimelineEvent, error) {
	clauses := []string{"goal_id=?"}
	args := []any{goalID}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	query := `SELECT id,goal_id,ts,type,description,COALESCE(related_id,'') FROM timeline_events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimelineEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// LatestEvents returns the n most recent events across goals, optionally
// filtered, oldest of the window first.
func (r Repo) LatestEvents(ctx context.Context, n int, goalID, evtType string) ([]domain.TimelineEvent, error) {
	var clauses []string
	var args []any
	if goalID != "" {
		clauses = append(clauses, "goal_id=?")
		args = append(args, goalID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	query := `SELECT id,goal_id,ts,type,description,COALESCE(related_id,'') FROM timeline_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimelineEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func scanEvent(rows *sql.Rows) (domain.TimelineEvent, error) {
	var evt domain.TimelineEvent
	var ts string
	if err := rows.Scan(&evt.ID, &evt.GoalID, &ts, &evt.Type, &evt.Description, &evt.RelatedID); err != nil {
		return evt, err
	}
	evt.At, _ = time.Parse(time.RFC3339Nano, ts)
	return evt, nil
}

// InsertCheckpoint stores an immutable checkpoint row.
func (r Repo) InsertCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	payload, err := json.Marshal(cp.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal checkpoint snapshot: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO checkpoints(id,goal_id,description,milestone_id,automatic,snapshot_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		cp.ID, cp.GoalID, nullable(cp.Description), nullable(cp.MilestoneID), boolInt(cp.Automatic),
		string(payload), cp.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// GetCheckpoint loads one checkpoint by id.
func (r Repo) GetCheckpoint(ctx context.Context, id string) (domain.Checkpoint, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,goal_id,COALESCE(description,''),COALESCE(milestone_id,''),automatic,snapshot_json,created_at FROM checkpoints WHERE id=?`, id)
	return scanCheckpoint(row)
}

// ListCheckpoints returns a goal's checkpoints, oldest first.
func (r Repo) ListCheckpoints(ctx context.Context, goalID string) ([]domain.Checkpoint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,goal_id,COALESCE(description,''),COALESCE(milestone_id,''),automatic,snapshot_json,created_at FROM checkpoints WHERE goal_id=? ORDER BY created_at ASC, id ASC`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Checkpoint
	for rows.Next() {
		var cp domain.Checkpoint
		var auto int
		var payload, ts string
		if err := rows.Scan(&cp.ID, &cp.GoalID, &cp.Description, &cp.MilestoneID, &auto, &payload, &ts); err != nil {
			return nil, err
		}
		cp.Automatic = auto != 0
		if err := json.Unmarshal([]byte(payload), &cp.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint snapshot: %w", err)
		}
		cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		res = append(res, cp)
	}
	return res, rows.Err()
}

func scanCheckpoint(row *sql.Row) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var auto int
	var payload, ts string
	err := row.Scan(&cp.ID, &cp.GoalID, &cp.Description, &cp.MilestoneID, &auto, &payload, &ts)
	if err == sql.ErrNoRows {
		return cp, ErrNotFound
	}
	if err != nil {
		return cp, err
	}
	cp.Automatic = auto != 0
	if err := json.Unmarshal([]byte(payload), &cp.Snapshot); err != nil {
		return cp, fmt.Errorf("unmarshal checkpoint snapshot: %w", err)
	}
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	return cp, nil
}

// SetMeta upserts a workspace metadata key (active goal and similar).
func (r Repo) SetMeta(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workspace_meta(key,value) VALUES (?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// GetMeta reads a workspace metadata key.
func (r Repo) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM workspace_meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
