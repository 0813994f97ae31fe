package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flowplane/flowplane/model"
	rd "github.com/go-redis/redis/v9"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	client := rd.NewUniversalClient(&rd.UniversalOptions{Addrs: []string{"localhost:6379"}})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	return Config{
		Addrs:      []string{"localhost:6379"},
		Namespace:  fmt.Sprintf("flowplane-test-%d", time.Now().UnixNano()),
		Partitions: 2,
	}
}

func TestRedisQueue(t *testing.T) {
	queue := NewRedisQueue(testConfig(t))

	require.NoError(t, queue.Push(model.ExecutionJob{ExecutionId: "exec-1", WorkflowName: "greeting"}))
	size, err := queue.Size()
	require.NoError(t, err)
	require.Equal(t, int64(1), size)

	job, err := queue.Poll("worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "exec-1", job.ExecutionId)
	require.Equal(t, "greeting", job.WorkflowName)

	// claimed, not visible to a second consumer
	job, err = queue.Poll("worker-2")
	require.NoError(t, err)
	require.Nil(t, job)

	requeued, dead, err := queue.RequeueExpired(0, 3)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)
	require.Zero(t, dead)

	job, err = queue.Poll("worker-2")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, queue.Ack("worker-2", job.ExecutionId))

	requeued, dead, err = queue.RequeueExpired(0, 3)
	require.NoError(t, err)
	require.Zero(t, requeued)
	require.Zero(t, dead)
}

func TestRedisQueueDeadLetter(t *testing.T) {
	queue := NewRedisQueue(testConfig(t))
	require.NoError(t, queue.Push(model.ExecutionJob{ExecutionId: "exec-1"}))

	for i := 0; i < 2; i++ {
		job, err := queue.Poll("worker-1")
		require.NoError(t, err)
		require.NotNil(t, job)
		_, _, err = queue.RequeueExpired(0, 2)
		require.NoError(t, err)
	}
	job, err := queue.Poll("worker-1")
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestRedisCancelFlags(t *testing.T) {
	flags := NewRedisCancelFlags(testConfig(t))

	set, err := flags.IsSet("exec-1")
	require.NoError(t, err)
	require.False(t, set)

	require.NoError(t, flags.Set("exec-1", time.Minute))
	set, err = flags.IsSet("exec-1")
	require.NoError(t, err)
	require.True(t, set)

	require.NoError(t, flags.Clear("exec-1"))
	set, err = flags.IsSet("exec-1")
	require.NoError(t, err)
	require.False(t, set)
}

func TestRedisLogStore(t *testing.T) {
	store := NewRedisLogStore(testConfig(t), 1000)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(model.ExecutionLogEntry{
			ExecutionId: "exec-1",
			Sequence:    int64(i),
			Level:       model.LOG_INFO,
			Message:     fmt.Sprintf("line %d", i),
			Timestamp:   time.Now(),
		}))
	}

	entries, err := store.Read("exec-1", -1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "line 0", entries[0].Message)
	require.Equal(t, int64(2), entries[2].Sequence)

	entries, err = store.Read("exec-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	dirty, err := store.Dirty()
	require.NoError(t, err)
	require.Contains(t, dirty, "exec-1")

	// a consumer that popped the id but failed its commit puts it back
	require.NoError(t, store.MarkDirty("exec-1"))
	dirty, err = store.Dirty()
	require.NoError(t, err)
	require.Contains(t, dirty, "exec-1")

	require.NoError(t, store.Trim("exec-1", 1))
	entries, err = store.Read("exec-1", -1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(2), entries[0].Sequence)

	require.NoError(t, store.Drop("exec-1"))
	dirty, err = store.Dirty()
	require.NoError(t, err)
	require.NotContains(t, dirty, "exec-1")
}

func TestRedisLogBroadcast(t *testing.T) {
	broadcast := NewRedisLogBroadcast(testConfig(t))

	sub, err := broadcast.Subscribe("exec-1")
	require.NoError(t, err)
	defer sub.Close()
	// pub/sub delivery needs the subscription registered first
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, broadcast.Publish(model.ExecutionLogEntry{
		ExecutionId: "exec-1", Sequence: 0, Level: model.LOG_INFO, Message: "live",
	}))

	select {
	case entry := <-sub.Entries():
		require.Equal(t, "live", entry.Message)
		require.Zero(t, entry.Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast entry received")
	}
}

func TestRedisPendingWriteStore(t *testing.T) {
	store := NewRedisPendingWriteStore(testConfig(t))

	require.NoError(t, store.Put(model.PendingWriteRecord{
		ExecutionId: "exec-1", OrgId: "org-1", Target: model.WRITE_TARGET_CONFIG,
		Op: model.WRITE_OP_SET, Key: "region", Payload: map[string]any{"value": "eu-west-1"},
	}))
	require.NoError(t, store.Put(model.PendingWriteRecord{
		ExecutionId: "exec-1", OrgId: "org-1", Target: model.WRITE_TARGET_CONFIG,
		Op: model.WRITE_OP_SET, Key: "region", Payload: map[string]any{"value": "us-east-1"},
	}))

	records, err := store.List("exec-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "us-east-1", records[0].Payload["value"])

	require.NoError(t, store.Discard("exec-1"))
	records, err = store.List("exec-1")
	require.NoError(t, err)
	require.Empty(t, records)
}
