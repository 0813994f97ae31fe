package inmem

import (
	"sync"
	"time"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
)

var _ persistence.Queue = new(inMemQueue)

type claimedJob struct {
	job       model.ExecutionJob
	claimedAt time.Time
}

type inMemQueue struct {
	mu         sync.Mutex
	ready      []model.ExecutionJob
	inflight   map[string]*claimedJob
	deliveries map[string]int
	dead       []model.ExecutionJob
}

func NewInMemQueue() *inMemQueue {
	return &inMemQueue{
		inflight:   make(map[string]*claimedJob),
		deliveries: make(map[string]int),
	}
}

func (q *inMemQueue) Push(job model.ExecutionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, job)
	return nil
}

func (q *inMemQueue) Poll(consumerId string) (*model.ExecutionJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, nil
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	q.inflight[job.ExecutionId] = &claimedJob{job: job, claimedAt: time.Now()}
	q.deliveries[job.ExecutionId]++
	return &job, nil
}

func (q *inMemQueue) Ack(consumerId string, executionId string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, executionId)
	delete(q.deliveries, executionId)
	return nil
}

func (q *inMemQueue) RequeueExpired(claimTimeout time.Duration, maxDeliveries int) (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	requeued, deadLettered := 0, 0
	cutoff := time.Now().Add(-claimTimeout)
	for id, claimed := range q.inflight {
		if claimed.claimedAt.After(cutoff) {
			continue
		}
		delete(q.inflight, id)
		if q.deliveries[id] >= maxDeliveries {
			q.dead = append(q.dead, claimed.job)
			delete(q.deliveries, id)
			deadLettered++
			continue
		}
		q.ready = append(q.ready, claimed.job)
		requeued++
	}
	return requeued, deadLettered, nil
}

func (q *inMemQueue) Size() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

func (q *inMemQueue) DeadLettered() []model.ExecutionJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.ExecutionJob(nil), q.dead...)
}
