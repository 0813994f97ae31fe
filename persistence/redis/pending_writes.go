package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowplane/flowplane/model"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/util"
	rd "github.com/go-redis/redis/v9"
)

const PENDING_WRITES string = "pending"

var _ persistence.PendingWriteStore = new(redisPendingWriteStore)

// Pending writes live in one hash per execution, keyed by (target, key) so a
// later write to the same resource replaces the earlier record.
type redisPendingWriteStore struct {
	*baseDao
	recEncDec util.EncoderDecoder[model.PendingWriteRecord]
}

func NewRedisPendingWriteStore(conf Config) *redisPendingWriteStore {
	return &redisPendingWriteStore{
		baseDao:   newBaseDao(conf),
		recEncDec: util.NewJsonEncoderDecoder[model.PendingWriteRecord](),
	}
}

func (s *redisPendingWriteStore) Put(rec model.PendingWriteRecord) error {
	data, err := s.recEncDec.Encode(rec)
	if err != nil {
		return err
	}
	key := s.getNamespaceKey(PENDING_WRITES, rec.ExecutionId)
	field := fmt.Sprintf("%s:%s", rec.Target, rec.Key)
	err = s.redisClient.HSet(context.Background(), key, field, string(data)).Err()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *redisPendingWriteStore) List(executionId string) ([]model.PendingWriteRecord, error) {
	key := s.getNamespaceKey(PENDING_WRITES, executionId)
	values, err := s.redisClient.HVals(context.Background(), key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var records []model.PendingWriteRecord
	for _, v := range values {
		rec, err := s.recEncDec.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (s *redisPendingWriteStore) Discard(executionId string) error {
	key := s.getNamespaceKey(PENDING_WRITES, executionId)
	err := s.redisClient.Del(context.Background(), key).Err()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
