package writebuffer

import (
	"errors"
	"sync"

	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
	"go.uber.org/zap"
)

// ErrOutOfScope is a programming error: SDK write calls are only valid while
// the owning execution is running.
var ErrOutOfScope = errors.New("platform write outside of an active execution scope")

type Manager struct {
	store    persistence.PendingWriteStore
	platform persistence.PlatformStorage
}

func NewManager(store persistence.PendingWriteStore, platform persistence.PlatformStorage) *Manager {
	return &Manager{store: store, platform: platform}
}

// Begin opens the write buffer for one execution. The handle is passed
// explicitly through the execution context rather than looked up from
// ambient state.
func (m *Manager) Begin(executionId string, orgId string) *Buffer {
	return &Buffer{manager: m, executionId: executionId, orgId: orgId, open: true}
}

// Buffer holds workflow-initiated platform mutations while the execution
// runs. Nothing touches the durable store until Flush.
type Buffer struct {
	manager     *Manager
	executionId string
	orgId       string

	mu   sync.Mutex
	open bool
}

func (b *Buffer) SetConfig(key string, value map[string]any) error {
	return b.record(model.WRITE_TARGET_CONFIG, model.WRITE_OP_SET, key, value)
}

func (b *Buffer) DeleteConfig(key string) error {
	return b.record(model.WRITE_TARGET_CONFIG, model.WRITE_OP_DELETE, key, nil)
}

func (b *Buffer) SetSecret(key string, value map[string]any) error {
	return b.record(model.WRITE_TARGET_SECRET, model.WRITE_OP_SET, key, value)
}

func (b *Buffer) DeleteSecret(key string) error {
	return b.record(model.WRITE_TARGET_SECRET, model.WRITE_OP_DELETE, key, nil)
}

func (b *Buffer) CreateRole(name string, payload map[string]any) error {
	return b.record(model.WRITE_TARGET_ROLE, model.WRITE_OP_CREATE, name, payload)
}

func (b *Buffer) DeleteRole(name string) error {
	return b.record(model.WRITE_TARGET_ROLE, model.WRITE_OP_DELETE, name, nil)
}

func (b *Buffer) record(target model.WriteTarget, op model.WriteOp, key string, payload map[string]any) error {
	b.mu.Lock()
	open := b.open
	b.mu.Unlock()
	if !open {
		return ErrOutOfScope
	}
	return b.manager.store.Put(model.PendingWriteRecord{
		ExecutionId: b.executionId,
		OrgId:       b.orgId,
		Target:      target,
		Op:          op,
		Key:         key,
		Payload:     payload,
	})
}

// Flush applies all pending records as one atomic unit and closes the
// buffer. Either every record becomes visible or none does.
func (b *Buffer) Flush() error {
	b.close()
	records, err := b.manager.store.List(b.executionId)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := b.manager.platform.ApplyPendingWrites(records); err != nil {
		return err
	}
	if err := b.manager.store.Discard(b.executionId); err != nil {
		// records were applied; leaking the transient copy is harmless
		logger.Warn("error discarding applied pending writes", zap.String("execution", b.executionId), zap.Error(err))
	}
	return nil
}

// Discard drops all pending records unconditionally and closes the buffer.
func (b *Buffer) Discard() error {
	b.close()
	return b.manager.store.Discard(b.executionId)
}

func (b *Buffer) close() {
	b.mu.Lock()
	b.open = false
	b.mu.Unlock()
}
