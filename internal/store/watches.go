package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Watch is the persisted run state of a configured log watch.
type Watch struct {
	Name       string     `json:"name"`
	AgentID    string     `json:"agent_id"`
	Schedule   string     `json:"schedule"`
	LogsPath   string     `json:"logs_path"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	LastTaskID string     `json:"last_task_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const watchColumns = `name, agent_id, schedule, logs_path, status,
	next_run_at, last_run_at, last_status, last_error, last_task_id, created_at`

func scanWatch(row scanner) (*Watch, error) {
	w := &Watch{}
	var lastStatus, lastError, lastTaskID *string
	err := row.Scan(&w.Name, &w.AgentID, &w.Schedule, &w.LogsPath, &w.Status,
		&w.NextRunAt, &w.LastRunAt, &lastStatus, &lastError, &lastTaskID, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		w.LastStatus = *lastStatus
	}
	if lastError != nil {
		w.LastError = *lastError
	}
	if lastTaskID != nil {
		w.LastTaskID = *lastTaskID
	}
	return w, nil
}

// SaveWatch upserts a watch definition. A pending next run survives unless
// the schedule changed.
func (s *Store) SaveWatch(w *Watch) error {
	status := w.Status
	if status == "" {
		status = "active"
	}
	_, err := s.db.Exec(`
		INSERT INTO watches (name, agent_id, schedule, logs_path, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			next_run_at = CASE
				WHEN watches.schedule = excluded.schedule AND watches.next_run_at IS NOT NULL
				THEN watches.next_run_at
				ELSE excluded.next_run_at
			END,
			agent_id = excluded.agent_id,
			schedule = excluded.schedule,
			logs_path = excluded.logs_path,
			status = excluded.status`,
		w.Name, w.AgentID, w.Schedule, w.LogsPath, status, w.NextRunAt)
	if err != nil {
		return fmt.Errorf("save watch: %w", err)
	}
	return nil
}

func (s *Store) GetWatch(name string) (*Watch, error) {
	row := s.db.QueryRow(`SELECT `+watchColumns+` FROM watches WHERE name = ?`, name)
	w, err := scanWatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watch: %w", err)
	}
	return w, nil
}

func (s *Store) ListWatches() ([]Watch, error) {
	return s.queryWatches(`SELECT ` + watchColumns + ` FROM watches ORDER BY name`)
}

func (s *Store) GetDueWatches(now time.Time) ([]Watch, error) {
	return s.queryWatches(`
		SELECT `+watchColumns+`
		FROM watches
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
}

func (s *Store) queryWatches(query string, args ...any) ([]Watch, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query watches: %w", err)
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, *w)
	}
	return watches, rows.Err()
}

func (s *Store) UpdateWatchRun(name, taskID, lastStatus, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE watches
		SET last_run_at = ?, last_task_id = ?, last_status = ?, last_error = ?, next_run_at = ?
		WHERE name = ?`, time.Now().UTC(), taskID, lastStatus, lastError, nextRunAt, name)
	if err != nil {
		return fmt.Errorf("update watch run: %w", err)
	}
	return nil
}

// DeleteWatchesNotIn drops watches that are no longer configured.
func (s *Store) DeleteWatchesNotIn(names []string) error {
	if len(names) == 0 {
		_, err := s.db.Exec(`DELETE FROM watches`)
		return err
	}
	query := `DELETE FROM watches WHERE name NOT IN (`
	args := make([]any, len(names))
	for i, name := range names {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = name
	}
	query += ")"
	_, err := s.db.Exec(query, args...)
	return err
}
