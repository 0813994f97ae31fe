package redis

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const QUEUE_READY string = "queue:ready"
const QUEUE_INFLIGHT string = "queue:inflight"
const QUEUE_JOBS string = "queue:jobs"
const QUEUE_DELIVERIES string = "queue:deliveries"
const QUEUE_DEAD string = "queue:dead"

var _ persistence.Queue = new(redisQueue)

// redisQueue is an at-least-once claim queue. Ready jobs sit in per-partition
// sorted sets scored by enqueue time; a poll pops exactly one job (prefetch 1)
// and parks it in the inflight set scored by claim time. Unacked claims are
// requeued by the reaper and dead-letter after too many deliveries.
type redisQueue struct {
	*baseDao
	mu               sync.Mutex
	currentPartition int
	jobEncDec        util.EncoderDecoder[model.ExecutionJob]
}

func NewRedisQueue(conf Config) *redisQueue {
	return &redisQueue{
		baseDao:   newBaseDao(conf),
		jobEncDec: util.NewJsonEncoderDecoder[model.ExecutionJob](),
	}
}

func (rq *redisQueue) Push(job model.ExecutionJob) error {
	data, err := rq.jobEncDec.Encode(job)
	if err != nil {
		return err
	}
	partition := strconv.Itoa(rq.getPartition(job.ExecutionId))
	readyKey := rq.getNamespaceKey(QUEUE_READY, partition)
	jobsKey := rq.getNamespaceKey(QUEUE_JOBS)
	ctx := context.Background()
	_, err = rq.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, jobsKey, job.ExecutionId, string(data))
		pipe.ZAdd(ctx, readyKey, rd.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: job.ExecutionId,
		})
		return nil
	})
	if err != nil {
		logger.Error("error while push to work queue", zap.String("execution", job.ExecutionId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisQueue) Poll(consumerId string) (*model.ExecutionJob, error) {
	ctx := context.Background()
	for i := 0; i < rq.partitions; i++ {
		partition := strconv.Itoa(rq.nextPartition())
		readyKey := rq.getNamespaceKey(QUEUE_READY, partition)
		popped, err := rq.redisClient.ZPopMin(ctx, readyKey, 1).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				continue
			}
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		if len(popped) == 0 {
			continue
		}
		executionId := popped[0].Member.(string)
		job, err := rq.claim(executionId)
		if err != nil {
			return nil, err
		}
		if job == nil {
			continue
		}
		return job, nil
	}
	return nil, nil
}

func (rq *redisQueue) claim(executionId string) (*model.ExecutionJob, error) {
	ctx := context.Background()
	jobsKey := rq.getNamespaceKey(QUEUE_JOBS)
	data, err := rq.redisClient.HGet(ctx, jobsKey, executionId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	inflightKey := rq.getNamespaceKey(QUEUE_INFLIGHT)
	deliveriesKey := rq.getNamespaceKey(QUEUE_DELIVERIES)
	_, err = rq.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.ZAdd(ctx, inflightKey, rd.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: executionId,
		})
		pipe.HIncrBy(ctx, deliveriesKey, executionId, 1)
		return nil
	})
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rq.jobEncDec.Decode([]byte(data))
}

func (rq *redisQueue) Ack(consumerId string, executionId string) error {
	ctx := context.Background()
	_, err := rq.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.ZRem(ctx, rq.getNamespaceKey(QUEUE_INFLIGHT), executionId)
		pipe.HDel(ctx, rq.getNamespaceKey(QUEUE_JOBS), executionId)
		pipe.HDel(ctx, rq.getNamespaceKey(QUEUE_DELIVERIES), executionId)
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisQueue) RequeueExpired(claimTimeout time.Duration, maxDeliveries int) (int, int, error) {
	ctx := context.Background()
	inflightKey := rq.getNamespaceKey(QUEUE_INFLIGHT)
	cutoff := time.Now().Add(-claimTimeout).UnixMilli()
	expired, err := rq.redisClient.ZRangeByScore(ctx, inflightKey, &rd.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return 0, 0, nil
		}
		return 0, 0, persistence.StorageLayerError{Message: err.Error()}
	}
	requeued, deadLettered := 0, 0
	deliveriesKey := rq.getNamespaceKey(QUEUE_DELIVERIES)
	jobsKey := rq.getNamespaceKey(QUEUE_JOBS)
	for _, executionId := range expired {
		deliveries, _ := rq.redisClient.HGet(ctx, deliveriesKey, executionId).Int()
		if deliveries >= maxDeliveries {
			data, err := rq.redisClient.HGet(ctx, jobsKey, executionId).Result()
			if err != nil && !errors.Is(err, rd.Nil) {
				return requeued, deadLettered, persistence.StorageLayerError{Message: err.Error()}
			}
			_, err = rq.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
				pipe.LPush(ctx, rq.getNamespaceKey(QUEUE_DEAD), data)
				pipe.ZRem(ctx, inflightKey, executionId)
				pipe.HDel(ctx, jobsKey, executionId)
				pipe.HDel(ctx, deliveriesKey, executionId)
				return nil
			})
			if err != nil {
				return requeued, deadLettered, persistence.StorageLayerError{Message: err.Error()}
			}
			logger.Warn("job dead lettered", zap.String("execution", executionId), zap.Int("deliveries", deliveries))
			deadLettered++
			continue
		}
		partition := strconv.Itoa(rq.getPartition(executionId))
		_, err = rq.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.ZRem(ctx, inflightKey, executionId)
			pipe.ZAdd(ctx, rq.getNamespaceKey(QUEUE_READY, partition), rd.Z{
				Score:  float64(time.Now().UnixMilli()),
				Member: executionId,
			})
			return nil
		})
		if err != nil {
			return requeued, deadLettered, persistence.StorageLayerError{Message: err.Error()}
		}
		requeued++
	}
	return requeued, deadLettered, nil
}

func (rq *redisQueue) Size() (int64, error) {
	ctx := context.Background()
	var total int64
	for i := 0; i < rq.partitions; i++ {
		n, err := rq.redisClient.ZCard(ctx, rq.getNamespaceKey(QUEUE_READY, strconv.Itoa(i))).Result()
		if err != nil {
			return 0, persistence.StorageLayerError{Message: err.Error()}
		}
		total += n
	}
	return total, nil
}

func (rq *redisQueue) nextPartition() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.currentPartition = (rq.currentPartition + 1) % rq.partitions
	return rq.currentPartition
}
