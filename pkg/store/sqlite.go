package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	engerr "github.com/waveq/waveq-engine/pkg/errors"
	"github.com/waveq/waveq-engine/pkg/models"
)

// SQLiteStore persists requests across daemon restarts. A single mutex
// serializes writers; WAL mode keeps readers concurrent.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		id            TEXT UNIQUE NOT NULL,
		client_id     TEXT NOT NULL DEFAULT '',
		sources       TEXT NOT NULL,
		instruction   TEXT NOT NULL DEFAULT '',
		operations    TEXT NOT NULL,
		priority      INTEGER NOT NULL,
		status        TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		started_at    TEXT,
		completed_at  TEXT,
		current_step  TEXT,
		result_ref    TEXT NOT NULL DEFAULT '',
		error         TEXT,
		processing_ms REAL NOT NULL DEFAULT 0,
		transitions   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_requests_client ON requests(client_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate requests table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(req *models.EditRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	req.Status = models.StatusQueued
	req.CreatedAt = now
	req.UpdatedAt = now

	sources, _ := json.Marshal(req.Sources)
	ops, _ := json.Marshal(req.Operations)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO requests (id, client_id, sources, instruction, operations, priority, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ClientID, string(sources), req.Instruction, string(ops),
		int(req.Priority), string(req.Status), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	if req.ID == "" {
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("request sequence: %w", err)
		}
		req.ID = fmt.Sprintf("REQ-%06d", seq)
		if _, err := tx.Exec(`UPDATE requests SET id = ? WHERE seq = ?`, req.ID, seq); err != nil {
			return fmt.Errorf("assign request id: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Get(id string) (*models.EditRequest, error) {
	row := s.db.QueryRow(selectColumns+` FROM requests WHERE id = ?`, id)
	return scanRequest(row, id)
}

func (s *SQLiteStore) List(filter Filter) ([]*models.EditRequest, error) {
	query := selectColumns + ` FROM requests WHERE 1=1`
	args := []interface{}{}
	if filter.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, filter.ClientID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*models.EditRequest
	for rows.Next() {
		req, err := scanRequest(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.Get(id)
	if err != nil {
		return err
	}
	if !models.IsTerminal(req.Status) {
		return fmt.Errorf("request %s is %s; only terminal requests can be deleted", id, req.Status)
	}
	_, err = s.db.Exec(`DELETE FROM requests WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) CountActive(clientID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM requests
		WHERE client_id = ? AND status IN (?, ?)`,
		clientID, string(models.StatusQueued), string(models.StatusProcessing)).Scan(&count)
	return count, err
}

func (s *SQLiteStore) MarkProcessing(id string) (*models.EditRequest, bool, error) {
	var out *models.EditRequest
	var changed bool
	err := s.mutate(id, func(req *models.EditRequest) error {
		if req.Status != models.StatusQueued {
			out = req.Clone()
			return nil
		}
		applyTransition(req, models.StatusProcessing, "dispatched to worker")
		now := time.Now().UTC()
		req.StartedAt = &now
		changed = true
		out = req.Clone()
		return nil
	})
	return out, changed, err
}

func (s *SQLiteStore) Complete(id, resultRef string, processingMS float64) (*models.EditRequest, error) {
	var out *models.EditRequest
	err := s.mutate(id, func(req *models.EditRequest) error {
		if err := models.ValidateTransition(req.Status, models.StatusCompleted); err != nil {
			return engerr.NewIllegalTransitionError(id, req.Status, models.StatusCompleted)
		}
		applyTransition(req, models.StatusCompleted, "pipeline finished")
		req.ResultRef = resultRef
		req.ProcessingMS = processingMS
		now := time.Now().UTC()
		req.CompletedAt = &now
		out = req.Clone()
		return nil
	})
	return out, err
}

func (s *SQLiteStore) Fail(id string, reqErr *models.RequestError, processingMS float64) (*models.EditRequest, error) {
	var out *models.EditRequest
	err := s.mutate(id, func(req *models.EditRequest) error {
		if err := models.ValidateTransition(req.Status, models.StatusError); err != nil {
			return engerr.NewIllegalTransitionError(id, req.Status, models.StatusError)
		}
		applyTransition(req, models.StatusError, "pipeline failed")
		req.Error = reqErr
		req.ProcessingMS = processingMS
		now := time.Now().UTC()
		req.CompletedAt = &now
		out = req.Clone()
		return nil
	})
	return out, err
}

func (s *SQLiteStore) Cancel(id string) (*models.EditRequest, bool, error) {
	var out *models.EditRequest
	var changed bool
	err := s.mutate(id, func(req *models.EditRequest) error {
		if models.IsTerminal(req.Status) {
			out = req.Clone()
			return nil
		}
		applyTransition(req, models.StatusCancelled, "client cancelled")
		changed = true
		out = req.Clone()
		return nil
	})
	return out, changed, err
}

func (s *SQLiteStore) SetCurrentStep(id string, step models.StepProgress) (*models.EditRequest, error) {
	var out *models.EditRequest
	err := s.mutate(id, func(req *models.EditRequest) error {
		step.UpdatedAt = time.Now().UTC()
		req.CurrentStep = &step
		out = req.Clone()
		return nil
	})
	return out, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mutate loads one row, applies fn, and writes the result back inside a
// transaction. This keeps every transition read-check-write atomic.
func (s *SQLiteStore) mutate(id string, fn func(*models.EditRequest) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(selectColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row, id)
	if err != nil {
		return err
	}

	if err := fn(req); err != nil {
		return err
	}

	step, _ := json.Marshal(req.CurrentStep)
	reqErr, _ := json.Marshal(req.Error)
	transitions, _ := json.Marshal(req.Transitions)

	_, err = tx.Exec(`
		UPDATE requests
		SET status = ?, updated_at = ?, started_at = ?, completed_at = ?,
		    current_step = ?, result_ref = ?, error = ?, processing_ms = ?, transitions = ?
		WHERE id = ?`,
		string(req.Status), fmtTime(req.UpdatedAt), fmtTimePtr(req.StartedAt), fmtTimePtr(req.CompletedAt),
		string(step), req.ResultRef, string(reqErr), req.ProcessingMS, string(transitions), id)
	if err != nil {
		return fmt.Errorf("update request %s: %w", id, err)
	}
	return tx.Commit()
}

func applyTransition(req *models.EditRequest, to models.RequestStatus, reason string) {
	now := time.Now().UTC()
	req.Transitions = append(req.Transitions, models.StateTransition{
		From:      req.Status,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	req.Status = to
	req.UpdatedAt = now
}

const selectColumns = `
	SELECT id, client_id, sources, instruction, operations, priority, status,
	       created_at, updated_at, started_at, completed_at, current_step,
	       result_ref, error, processing_ms, transitions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner, id string) (*models.EditRequest, error) {
	var (
		req                     models.EditRequest
		sources, ops            string
		priority                int
		status                  string
		createdAt, updatedAt    string
		startedAt, completedAt  sql.NullString
		step, reqErr, trans     sql.NullString
	)
	err := row.Scan(&req.ID, &req.ClientID, &sources, &req.Instruction, &ops, &priority, &status,
		&createdAt, &updatedAt, &startedAt, &completedAt, &step,
		&req.ResultRef, &reqErr, &req.ProcessingMS, &trans)
	if err == sql.ErrNoRows {
		return nil, engerr.NewNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}

	json.Unmarshal([]byte(sources), &req.Sources)
	json.Unmarshal([]byte(ops), &req.Operations)
	req.Priority = models.Priority(priority)
	req.Status = models.RequestStatus(status)
	req.CreatedAt = parseTime(createdAt)
	req.UpdatedAt = parseTime(updatedAt)
	req.StartedAt = parseTimePtr(startedAt)
	req.CompletedAt = parseTimePtr(completedAt)
	if step.Valid && step.String != "" && step.String != "null" {
		var sp models.StepProgress
		if json.Unmarshal([]byte(step.String), &sp) == nil {
			req.CurrentStep = &sp
		}
	}
	if reqErr.Valid && reqErr.String != "" && reqErr.String != "null" {
		var re models.RequestError
		if json.Unmarshal([]byte(reqErr.String), &re) == nil {
			req.Error = &re
		}
	}
	if trans.Valid && trans.String != "" && trans.String != "null" {
		json.Unmarshal([]byte(trans.String), &req.Transitions)
	}
	return &req, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
