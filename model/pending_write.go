package model

type WriteTarget string

const WRITE_TARGET_CONFIG WriteTarget = "config"
const WRITE_TARGET_SECRET WriteTarget = "secret"
const WRITE_TARGET_ROLE WriteTarget = "role"

type WriteOp string

const WRITE_OP_SET WriteOp = "set"
const WRITE_OP_DELETE WriteOp = "delete"
const WRITE_OP_CREATE WriteOp = "create"

// PendingWriteRecord is a buffered platform mutation issued by workflow code.
// Records are keyed by (ExecutionId, Target, Key); a later write to the same
// key replaces the earlier one.
type PendingWriteRecord struct {
	ExecutionId string         `json:"executionId"`
	OrgId       string         `json:"orgId,omitempty"`
	Target      WriteTarget    `json:"target"`
	Op          WriteOp        `json:"op"`
	Key         string         `json:"key"`
	Payload     map[string]any `json:"payload,omitempty"`
}
