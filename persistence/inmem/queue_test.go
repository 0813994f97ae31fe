package inmem

import (
	"testing"
	"time"

	"github.com/flowplane/flowplane/model"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, queue *inMemQueue,
	){
		"test poll claims in order":        testPollClaims,
		"test ack removes claim":           testAckRemovesClaim,
		"test requeue expired claim":       testRequeueExpired,
		"test dead letter at max delivery": testDeadLetter,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewInMemQueue())
		})
	}
}

func testPollClaims(t *testing.T, queue *inMemQueue) {
	require.NoError(t, queue.Push(model.ExecutionJob{ExecutionId: "a"}))
	require.NoError(t, queue.Push(model.ExecutionJob{ExecutionId: "b"}))

	size, err := queue.Size()
	require.NoError(t, err)
	require.Equal(t, int64(2), size)

	job, err := queue.Poll("worker-1")
	require.NoError(t, err)
	require.Equal(t, "a", job.ExecutionId)
	job, err = queue.Poll("worker-1")
	require.NoError(t, err)
	require.Equal(t, "b", job.ExecutionId)

	// claimed jobs are invisible to other consumers
	job, err = queue.Poll("worker-2")
	require.NoError(t, err)
	require.Nil(t, job)
}

func testAckRemovesClaim(t *testing.T, queue *inMemQueue) {
	require.NoError(t, queue.Push(model.ExecutionJob{ExecutionId: "a"}))
	job, err := queue.Poll("worker-1")
	require.NoError(t, err)
	require.NoError(t, queue.Ack("worker-1", job.ExecutionId))

	requeued, dead, err := queue.RequeueExpired(0, 3)
	require.NoError(t, err)
	require.Zero(t, requeued)
	require.Zero(t, dead)
}

func testRequeueExpired(t *testing.T, queue *inMemQueue) {
	require.NoError(t, queue.Push(model.ExecutionJob{ExecutionId: "a"}))
	_, err := queue.Poll("worker-1")
	require.NoError(t, err)

	// a fresh claim is left alone
	requeued, dead, err := queue.RequeueExpired(time.Minute, 3)
	require.NoError(t, err)
	require.Zero(t, requeued)
	require.Zero(t, dead)

	requeued, dead, err = queue.RequeueExpired(0, 3)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)
	require.Zero(t, dead)

	job, err := queue.Poll("worker-2")
	require.NoError(t, err)
	require.Equal(t, "a", job.ExecutionId)
}

func testDeadLetter(t *testing.T, queue *inMemQueue) {
	require.NoError(t, queue.Push(model.ExecutionJob{ExecutionId: "a"}))
	for i := 0; i < 2; i++ {
		_, err := queue.Poll("worker-1")
		require.NoError(t, err)
		requeued, dead, err := queue.RequeueExpired(0, 2)
		require.NoError(t, err)
		if i == 0 {
			require.Equal(t, 1, requeued)
			require.Zero(t, dead)
		} else {
			require.Zero(t, requeued)
			require.Equal(t, 1, dead)
		}
	}

	job, err := queue.Poll("worker-1")
	require.NoError(t, err)
	require.Nil(t, job)
	require.Len(t, queue.DeadLettered(), 1)
	require.Equal(t, "a", queue.DeadLettered()[0].ExecutionId)
}
