package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
)

var _ persistence.ExecutionStorage = new(executionStorage)

type executionStorage struct {
	db *sql.DB
}

func NewExecutionStorage(db *sql.DB) *executionStorage {
	return &executionStorage{db: db}
}

func (s *executionStorage) CreateExecution(exec *model.Execution) error {
	params, _ := json.Marshal(exec.Params)
	_, err := s.db.Exec(`INSERT INTO executions
		(id, workflow_name, org_id, params, status, created_at)
		VALUES (?,?,?,?,?,?)`,
		exec.Id, exec.WorkflowName, exec.OrgId, string(params),
		string(exec.Status), formatTime(exec.CreatedAt))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *executionStorage) GetExecution(id string) (*model.Execution, error) {
	row := s.db.QueryRow(`SELECT id, workflow_name, org_id, params, status, result,
		error_type, error_message, variables, peak_memory_bytes, user_cpu_millis,
		system_cpu_millis, created_at, started_at, ended_at
		FROM executions WHERE id = ?`, id)
	var exec model.Execution
	var params, status, variables, createdAt string
	var result, startedAt, endedAt sql.NullString
	err := row.Scan(&exec.Id, &exec.WorkflowName, &exec.OrgId, &params, &status, &result,
		&exec.ErrorType, &exec.ErrorMessage, &variables, &exec.Metrics.PeakMemoryBytes,
		&exec.Metrics.UserCPUMillis, &exec.Metrics.SystemCPUMillis, &createdAt, &startedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	json.Unmarshal([]byte(params), &exec.Params)
	json.Unmarshal([]byte(variables), &exec.Variables)
	if result.Valid {
		json.Unmarshal([]byte(result.String), &exec.Result)
	}
	exec.Status = model.ExecutionStatus(status)
	exec.Metrics.TotalCPUMillis = exec.Metrics.UserCPUMillis + exec.Metrics.SystemCPUMillis
	exec.CreatedAt = parseTime(createdAt)
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		exec.StartedAt = &t
	}
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		exec.EndedAt = &t
	}
	return &exec, nil
}

func (s *executionStorage) UpdateStatus(id string, from model.ExecutionStatus, to model.ExecutionStatus) error {
	if err := model.ValidateTransition(from, to); err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE executions SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("execution %s not in status %s", id, from)
	}
	return nil
}

func (s *executionStorage) FinishExecution(exec *model.Execution, from model.ExecutionStatus) error {
	if err := model.ValidateTransition(from, exec.Status); err != nil {
		return err
	}
	var result any
	if exec.Result != nil {
		data, _ := json.Marshal(exec.Result)
		result = string(data)
	}
	variables, _ := json.Marshal(exec.Variables)
	var endedAt any
	if exec.EndedAt != nil {
		endedAt = formatTime(*exec.EndedAt)
	}
	res, err := s.db.Exec(`UPDATE executions SET status = ?, result = ?, error_type = ?,
		error_message = ?, variables = ?, peak_memory_bytes = ?, user_cpu_millis = ?,
		system_cpu_millis = ?, ended_at = ?
		WHERE id = ? AND status = ?`,
		string(exec.Status), result, exec.ErrorType, exec.ErrorMessage, string(variables),
		exec.Metrics.PeakMemoryBytes, exec.Metrics.UserCPUMillis, exec.Metrics.SystemCPUMillis,
		endedAt, exec.Id, string(from))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("execution %s not in status %s", exec.Id, from)
	}
	return nil
}

func (s *executionStorage) MarkStarted(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE executions SET started_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *executionStorage) FailStale(startedBefore time.Time, errType string, message string) (int64, error) {
	res, err := s.db.Exec(`UPDATE executions SET status = ?, error_type = ?, error_message = ?, ended_at = ?
		WHERE status IN (?, ?) AND started_at IS NOT NULL AND started_at < ?`,
		string(model.EXECUTION_FAILED), errType, message, formatTime(time.Now()),
		string(model.EXECUTION_RUNNING), string(model.EXECUTION_CANCELLING), formatTime(startedBefore))
	if err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *executionStorage) SaveLogEntries(entries []model.ExecutionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	// INSERT OR IGNORE tolerates redelivery from the durable log.
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO execution_logs
		(execution_id, sequence, level, message, metadata, created_at)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return persistence.StorageLayerError{Message: err.Error()}
	}
	defer stmt.Close()
	for _, e := range entries {
		var metadata any
		if e.Metadata != nil {
			data, _ := json.Marshal(e.Metadata)
			metadata = string(data)
		}
		if _, err := stmt.Exec(e.ExecutionId, e.Sequence, string(e.Level), e.Message, metadata, formatTime(e.Timestamp)); err != nil {
			tx.Rollback()
			return persistence.StorageLayerError{Message: err.Error()}
		}
	}
	if err := tx.Commit(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *executionStorage) GetLogEntries(id string, afterSeq int64, limit int) ([]model.ExecutionLogEntry, error) {
	rows, err := s.db.Query(`SELECT execution_id, sequence, level, message, metadata, created_at
		FROM execution_logs WHERE execution_id = ? AND sequence > ?
		ORDER BY sequence LIMIT ?`, id, afterSeq, limit)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var result []model.ExecutionLogEntry
	for rows.Next() {
		var e model.ExecutionLogEntry
		var level, createdAt string
		var metadata sql.NullString
		if err := rows.Scan(&e.ExecutionId, &e.Sequence, &level, &e.Message, &metadata, &createdAt); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		e.Level = model.LogLevel(level)
		if metadata.Valid {
			json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		e.Timestamp = parseTime(createdAt)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *executionStorage) MaxLogSequence(id string) (int64, error) {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(sequence), -1) FROM execution_logs WHERE execution_id = ?`, id)
	var max int64
	if err := row.Scan(&max); err != nil {
		return -1, persistence.StorageLayerError{Message: err.Error()}
	}
	return max, nil
}
