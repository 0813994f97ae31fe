package redis

import (
	"context"
	"time"

	"github.com/flowplane/flowplane/persistence"
)

const CANCEL_FLAG string = "cancel"

var _ persistence.CancelFlags = new(redisCancelFlags)

// Cancellation flags carry a TTL so state is never leaked when the worker
// finished before observing the flag.
type redisCancelFlags struct {
	*baseDao
}

func NewRedisCancelFlags(conf Config) *redisCancelFlags {
	return &redisCancelFlags{baseDao: newBaseDao(conf)}
}

func (f *redisCancelFlags) Set(executionId string, ttl time.Duration) error {
	key := f.getNamespaceKey(CANCEL_FLAG, executionId)
	err := f.redisClient.Set(context.Background(), key, "1", ttl).Err()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (f *redisCancelFlags) IsSet(executionId string) (bool, error) {
	key := f.getNamespaceKey(CANCEL_FLAG, executionId)
	n, err := f.redisClient.Exists(context.Background(), key).Result()
	if err != nil {
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return n > 0, nil
}

func (f *redisCancelFlags) Clear(executionId string) error {
	key := f.getNamespaceKey(CANCEL_FLAG, executionId)
	err := f.redisClient.Del(context.Background(), key).Err()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
