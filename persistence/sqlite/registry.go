package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
)

var _ persistence.RegistryStorage = new(registryStorage)

type registryStorage struct {
	db *sql.DB
}

func NewRegistryStorage(db *sql.DB) *registryStorage {
	return &registryStorage{db: db}
}

func (r *registryStorage) SaveWorkflowDefinition(wf model.WorkflowDefinition) error {
	tags, _ := json.Marshal(wf.Tags)
	params, _ := json.Marshal(wf.Parameters)
	_, err := r.db.Exec(`INSERT INTO workflow_definitions
		(name, description, category, tags, parameters, mode, org_required, form, schedule, source_path, active, last_seen_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
		description=excluded.description, category=excluded.category,
		tags=excluded.tags, parameters=excluded.parameters, mode=excluded.mode,
		org_required=excluded.org_required, form=excluded.form,
		schedule=excluded.schedule, source_path=excluded.source_path,
		active=excluded.active, last_seen_at=excluded.last_seen_at`,
		wf.Name, wf.Description, wf.Category, string(tags), string(params),
		string(wf.Mode), boolInt(wf.OrgRequired), boolInt(wf.Form), wf.Schedule,
		wf.SourcePath, boolInt(wf.Active), formatTime(wf.LastSeenAt))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *registryStorage) GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error) {
	row := r.db.QueryRow(`SELECT name, description, category, tags, parameters, mode,
		org_required, form, schedule, source_path, active, last_seen_at
		FROM workflow_definitions WHERE name = ?`, name)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return wf, nil
}

func (r *registryStorage) ListWorkflowDefinitions(activeOnly bool) ([]model.WorkflowDefinition, error) {
	q := `SELECT name, description, category, tags, parameters, mode,
		org_required, form, schedule, source_path, active, last_seen_at
		FROM workflow_definitions`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY name`
	rows, err := r.db.Query(q)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var result []model.WorkflowDefinition
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		result = append(result, *wf)
	}
	return result, rows.Err()
}

func (r *registryStorage) TouchWorkflowDefinition(name string, seenAt time.Time) error {
	_, err := r.db.Exec(`UPDATE workflow_definitions SET last_seen_at = ?, active = 1 WHERE name = ?`,
		formatTime(seenAt), name)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *registryStorage) SaveDataProviderDefinition(dp model.DataProviderDefinition) error {
	_, err := r.db.Exec(`INSERT INTO data_provider_definitions
		(name, description, category, cache_ttl, source_path, active, last_seen_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
		description=excluded.description, category=excluded.category,
		cache_ttl=excluded.cache_ttl, source_path=excluded.source_path,
		active=excluded.active, last_seen_at=excluded.last_seen_at`,
		dp.Name, dp.Description, dp.Category, dp.CacheTTL, dp.SourcePath,
		boolInt(dp.Active), formatTime(dp.LastSeenAt))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *registryStorage) GetDataProviderDefinition(name string) (*model.DataProviderDefinition, error) {
	row := r.db.QueryRow(`SELECT name, description, category, cache_ttl, source_path, active, last_seen_at
		FROM data_provider_definitions WHERE name = ?`, name)
	var dp model.DataProviderDefinition
	var active int
	var lastSeen string
	err := row.Scan(&dp.Name, &dp.Description, &dp.Category, &dp.CacheTTL, &dp.SourcePath, &active, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	dp.Active = active == 1
	dp.LastSeenAt = parseTime(lastSeen)
	return &dp, nil
}

func (r *registryStorage) ListDataProviderDefinitions(activeOnly bool) ([]model.DataProviderDefinition, error) {
	q := `SELECT name, description, category, cache_ttl, source_path, active, last_seen_at
		FROM data_provider_definitions`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY name`
	rows, err := r.db.Query(q)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var result []model.DataProviderDefinition
	for rows.Next() {
		var dp model.DataProviderDefinition
		var active int
		var lastSeen string
		if err := rows.Scan(&dp.Name, &dp.Description, &dp.Category, &dp.CacheTTL, &dp.SourcePath, &active, &lastSeen); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		dp.Active = active == 1
		dp.LastSeenAt = parseTime(lastSeen)
		result = append(result, dp)
	}
	return result, rows.Err()
}

func (r *registryStorage) TouchDataProviderDefinition(name string, seenAt time.Time) error {
	_, err := r.db.Exec(`UPDATE data_provider_definitions SET last_seen_at = ?, active = 1 WHERE name = ?`,
		formatTime(seenAt), name)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *registryStorage) SaveFormDefinition(form model.FormDefinition) error {
	_, err := r.db.Exec(`INSERT INTO form_definitions
		(name, title, workflow, source_path, active, last_seen_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
		title=excluded.title, workflow=excluded.workflow,
		source_path=excluded.source_path, active=excluded.active,
		last_seen_at=excluded.last_seen_at`,
		form.Name, form.Title, form.Workflow, form.SourcePath,
		boolInt(form.Active), formatTime(form.LastSeenAt))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *registryStorage) ListFormDefinitions(activeOnly bool) ([]model.FormDefinition, error) {
	q := `SELECT name, title, workflow, source_path, active, last_seen_at FROM form_definitions`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY name`
	rows, err := r.db.Query(q)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var result []model.FormDefinition
	for rows.Next() {
		var f model.FormDefinition
		var active int
		var lastSeen string
		if err := rows.Scan(&f.Name, &f.Title, &f.Workflow, &f.SourcePath, &active, &lastSeen); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		f.Active = active == 1
		f.LastSeenAt = parseTime(lastSeen)
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *registryStorage) TouchFormDefinition(name string, seenAt time.Time) error {
	_, err := r.db.Exec(`UPDATE form_definitions SET last_seen_at = ?, active = 1 WHERE name = ?`,
		formatTime(seenAt), name)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *registryStorage) DeactivateUnseen(seenBefore time.Time) (int64, error) {
	cutoff := formatTime(seenBefore)
	var total int64
	for _, table := range []string{"workflow_definitions", "data_provider_definitions", "form_definitions"} {
		res, err := r.db.Exec(`UPDATE `+table+` SET active = 0 WHERE active = 1 AND last_seen_at < ?`, cutoff)
		if err != nil {
			return total, persistence.StorageLayerError{Message: err.Error()}
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*model.WorkflowDefinition, error) {
	var wf model.WorkflowDefinition
	var tags, params, mode, lastSeen string
	var orgRequired, form, active int
	err := row.Scan(&wf.Name, &wf.Description, &wf.Category, &tags, &params, &mode,
		&orgRequired, &form, &wf.Schedule, &wf.SourcePath, &active, &lastSeen)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(tags), &wf.Tags)
	json.Unmarshal([]byte(params), &wf.Parameters)
	wf.Mode = model.ExecutionMode(mode)
	wf.OrgRequired = orgRequired == 1
	wf.Form = form == 1
	wf.Active = active == 1
	wf.LastSeenAt = parseTime(lastSeen)
	return &wf, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
