package writebuffer

import (
	"testing"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/persistence/inmem"
	"github.com/flowplane/flowplane/persistence/sqlite"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*Manager, persistence.PlatformStorage) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	platform := sqlite.NewPlatformStorage(db)
	return NewManager(inmem.NewInMemPendingWriteStore(), platform), platform
}

func TestWriteBuffer(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, m *Manager, platform persistence.PlatformStorage,
	){
		"test flush applies writes":      testFlushApplies,
		"test discard drops writes":      testDiscardDrops,
		"test write after close fails":   testWriteAfterClose,
		"test last write wins per key":   testLastWriteWins,
		"test delete applied on flush":   testDeleteApplied,
		"test empty buffer flush is ok":  testEmptyFlush,
		"test buffers are scoped per id": testScopedBuffers,
	} {
		t.Run(scenario, func(t *testing.T) {
			m, platform := newManager(t)
			fn(t, m, platform)
		})
	}
}

func testFlushApplies(t *testing.T, m *Manager, platform persistence.PlatformStorage) {
	buf := m.Begin("exec-1", "org-1")
	require.NoError(t, buf.SetConfig("endpoint", map[string]any{"url": "https://example.com"}))
	require.NoError(t, buf.SetSecret("token", map[string]any{"value": "s3cret"}))
	require.NoError(t, buf.CreateRole("auditor", map[string]any{"permissions": []any{"read"}}))

	// nothing is visible before flush
	value, err := platform.GetConfigValue("org-1", "endpoint")
	require.NoError(t, err)
	require.Nil(t, value)

	require.NoError(t, buf.Flush())

	value, err = platform.GetConfigValue("org-1", "endpoint")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", value["url"])
	secret, err := platform.GetSecretValue("org-1", "token")
	require.NoError(t, err)
	require.Equal(t, "s3cret", secret["value"])
	role, err := platform.GetRole("org-1", "auditor")
	require.NoError(t, err)
	require.NotNil(t, role)
}

func testDiscardDrops(t *testing.T, m *Manager, platform persistence.PlatformStorage) {
	buf := m.Begin("exec-1", "org-1")
	require.NoError(t, buf.SetConfig("endpoint", map[string]any{"url": "https://example.com"}))
	require.NoError(t, buf.Discard())

	value, err := platform.GetConfigValue("org-1", "endpoint")
	require.NoError(t, err)
	require.Nil(t, value)
}

func testWriteAfterClose(t *testing.T, m *Manager, platform persistence.PlatformStorage) {
	buf := m.Begin("exec-1", "org-1")
	require.NoError(t, buf.Flush())

	err := buf.SetConfig("late", map[string]any{"v": 1})
	require.ErrorIs(t, err, ErrOutOfScope)
	err = buf.DeleteSecret("late")
	require.ErrorIs(t, err, ErrOutOfScope)
}

func testLastWriteWins(t *testing.T, m *Manager, platform persistence.PlatformStorage) {
	buf := m.Begin("exec-1", "org-1")
	require.NoError(t, buf.SetConfig("endpoint", map[string]any{"url": "first"}))
	require.NoError(t, buf.SetConfig("endpoint", map[string]any{"url": "second"}))
	require.NoError(t, buf.Flush())

	value, err := platform.GetConfigValue("org-1", "endpoint")
	require.NoError(t, err)
	require.Equal(t, "second", value["url"])
}

func testDeleteApplied(t *testing.T, m *Manager, platform persistence.PlatformStorage) {
	require.NoError(t, platform.ApplyPendingWrites([]model.PendingWriteRecord{{
		ExecutionId: "seed", OrgId: "org-1",
		Target: model.WRITE_TARGET_CONFIG, Op: model.WRITE_OP_SET,
		Key: "stale", Payload: map[string]any{"v": 1},
	}}))

	buf := m.Begin("exec-1", "org-1")
	require.NoError(t, buf.DeleteConfig("stale"))
	require.NoError(t, buf.Flush())

	value, err := platform.GetConfigValue("org-1", "stale")
	require.NoError(t, err)
	require.Nil(t, value)
}

func testEmptyFlush(t *testing.T, m *Manager, platform persistence.PlatformStorage) {
	buf := m.Begin("exec-1", "org-1")
	require.NoError(t, buf.Flush())
}

func testScopedBuffers(t *testing.T, m *Manager, platform persistence.PlatformStorage) {
	first := m.Begin("exec-1", "org-1")
	second := m.Begin("exec-2", "org-1")
	require.NoError(t, first.SetConfig("a", map[string]any{"v": 1}))
	require.NoError(t, second.SetConfig("b", map[string]any{"v": 2}))

	// discarding one execution's buffer leaves the other intact
	require.NoError(t, first.Discard())
	require.NoError(t, second.Flush())

	a, err := platform.GetConfigValue("org-1", "a")
	require.NoError(t, err)
	require.Nil(t, a)
	b, err := platform.GetConfigValue("org-1", "b")
	require.NoError(t, err)
	require.NotNil(t, b)
}
