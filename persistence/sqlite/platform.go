package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
)

var _ persistence.PlatformStorage = new(platformStorage)

type platformStorage struct {
	db *sql.DB
}

func NewPlatformStorage(db *sql.DB) *platformStorage {
	return &platformStorage{db: db}
}

func (s *platformStorage) ApplyPendingWrites(records []model.PendingWriteRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	for _, rec := range records {
		if err := applyRecord(tx, rec); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func applyRecord(tx *sql.Tx, rec model.PendingWriteRecord) error {
	table, keyCol := targetTable(rec.Target)
	if table == "" {
		return fmt.Errorf("unknown write target %s", rec.Target)
	}
	switch rec.Op {
	case model.WRITE_OP_SET, model.WRITE_OP_CREATE:
		payload, _ := json.Marshal(rec.Payload)
		_, err := tx.Exec(`INSERT INTO `+table+` (org_id, `+keyCol+`, `+valueCol(rec.Target)+`)
			VALUES (?,?,?)
			ON CONFLICT(org_id, `+keyCol+`) DO UPDATE SET `+valueCol(rec.Target)+`=excluded.`+valueCol(rec.Target),
			rec.OrgId, rec.Key, string(payload))
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
	case model.WRITE_OP_DELETE:
		_, err := tx.Exec(`DELETE FROM `+table+` WHERE org_id = ? AND `+keyCol+` = ?`, rec.OrgId, rec.Key)
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
	default:
		return fmt.Errorf("unknown write op %s", rec.Op)
	}
	return nil
}

func targetTable(t model.WriteTarget) (string, string) {
	switch t {
	case model.WRITE_TARGET_CONFIG:
		return "org_config", "key"
	case model.WRITE_TARGET_SECRET:
		return "org_secrets", "key"
	case model.WRITE_TARGET_ROLE:
		return "org_roles", "name"
	}
	return "", ""
}

func valueCol(t model.WriteTarget) string {
	if t == model.WRITE_TARGET_ROLE {
		return "payload"
	}
	return "value"
}

func (s *platformStorage) GetConfigValue(orgId string, key string) (map[string]any, error) {
	return s.get("org_config", "key", "value", orgId, key)
}

func (s *platformStorage) GetSecretValue(orgId string, key string) (map[string]any, error) {
	return s.get("org_secrets", "key", "value", orgId, key)
}

func (s *platformStorage) GetRole(orgId string, name string) (map[string]any, error) {
	return s.get("org_roles", "name", "payload", orgId, name)
}

func (s *platformStorage) get(table, keyCol, valCol, orgId, key string) (map[string]any, error) {
	row := s.db.QueryRow(`SELECT `+valCol+` FROM `+table+` WHERE org_id = ? AND `+keyCol+` = ?`, orgId, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var payload map[string]any
	json.Unmarshal([]byte(value), &payload)
	return payload, nil
}
