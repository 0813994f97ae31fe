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

const LOG_STREAM string = "log"
const LOG_DIRTY string = "log:dirty"
const LOG_CHANNEL string = "logchan"

var _ persistence.LogStore = new(redisLogStore)
var _ persistence.LogBroadcast = new(redisLogBroadcast)

// redisLogStore keeps one stream per execution. The stream entry ID encodes
// the sequence number (seq n -> ID "n+1-0") so reads and trims can address
// entries by sequence directly.
type redisLogStore struct {
	*baseDao
	entryEncDec util.EncoderDecoder[model.ExecutionLogEntry]
	maxLen      int64
}

func NewRedisLogStore(conf Config, maxLen int64) *redisLogStore {
	return &redisLogStore{
		baseDao:     newBaseDao(conf),
		entryEncDec: util.NewJsonEncoderDecoder[model.ExecutionLogEntry](),
		maxLen:      maxLen,
	}
}

func seqToStreamId(seq int64) string {
	return fmt.Sprintf("%d-0", seq+1)
}

func (s *redisLogStore) Append(entry model.ExecutionLogEntry) error {
	data, err := s.entryEncDec.Encode(entry)
	if err != nil {
		return err
	}
	key := s.getNamespaceKey(LOG_STREAM, entry.ExecutionId)
	ctx := context.Background()
	_, err = s.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.XAdd(ctx, &rd.XAddArgs{
			Stream: key,
			ID:     seqToStreamId(entry.Sequence),
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]any{"entry": string(data)},
		})
		pipe.SAdd(ctx, s.getNamespaceKey(LOG_DIRTY), entry.ExecutionId)
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *redisLogStore) Read(executionId string, afterSeq int64, limit int) ([]model.ExecutionLogEntry, error) {
	key := s.getNamespaceKey(LOG_STREAM, executionId)
	start := seqToStreamId(afterSeq + 1)
	msgs, err := s.redisClient.XRangeN(context.Background(), key, start, "+", int64(limit)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var entries []model.ExecutionLogEntry
	for _, msg := range msgs {
		raw, ok := msg.Values["entry"].(string)
		if !ok {
			continue
		}
		entry, err := s.entryEncDec.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (s *redisLogStore) Trim(executionId string, upToSeq int64) error {
	key := s.getNamespaceKey(LOG_STREAM, executionId)
	// exact trim: approximate MINID trimming can leave the whole stream in
	// place at low volume, and the persister expects drained entries gone
	minId := seqToStreamId(upToSeq + 1)
	err := s.redisClient.XTrimMinID(context.Background(), key, minId).Err()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *redisLogStore) Dirty() ([]string, error) {
	key := s.getNamespaceKey(LOG_DIRTY)
	ids, err := s.redisClient.SPopN(context.Background(), key, 1024).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return ids, nil
}

func (s *redisLogStore) MarkDirty(executionId string) error {
	err := s.redisClient.SAdd(context.Background(), s.getNamespaceKey(LOG_DIRTY), executionId).Err()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *redisLogStore) Drop(executionId string) error {
	ctx := context.Background()
	_, err := s.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Del(ctx, s.getNamespaceKey(LOG_STREAM, executionId))
		pipe.SRem(ctx, s.getNamespaceKey(LOG_DIRTY), executionId)
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

type redisLogBroadcast struct {
	*baseDao
	entryEncDec util.EncoderDecoder[model.ExecutionLogEntry]
}

func NewRedisLogBroadcast(conf Config) *redisLogBroadcast {
	return &redisLogBroadcast{
		baseDao:     newBaseDao(conf),
		entryEncDec: util.NewJsonEncoderDecoder[model.ExecutionLogEntry](),
	}
}

func (b *redisLogBroadcast) Publish(entry model.ExecutionLogEntry) error {
	data, err := b.entryEncDec.Encode(entry)
	if err != nil {
		return err
	}
	channel := b.getNamespaceKey(LOG_CHANNEL, entry.ExecutionId)
	// fire and forget; a missed publish is recoverable from the log store
	return b.redisClient.Publish(context.Background(), channel, string(data)).Err()
}

func (b *redisLogBroadcast) Subscribe(executionId string) (persistence.LogSubscription, error) {
	channel := b.getNamespaceKey(LOG_CHANNEL, executionId)
	pubsub := b.redisClient.Subscribe(context.Background(), channel)
	sub := &redisLogSubscription{
		pubsub:  pubsub,
		entries: make(chan model.ExecutionLogEntry, 128),
		encDec:  b.entryEncDec,
	}
	go sub.loop()
	return sub, nil
}

type redisLogSubscription struct {
	pubsub  *rd.PubSub
	entries chan model.ExecutionLogEntry
	encDec  util.EncoderDecoder[model.ExecutionLogEntry]
}

func (s *redisLogSubscription) loop() {
	defer close(s.entries)
	for msg := range s.pubsub.Channel() {
		entry, err := s.encDec.Decode([]byte(msg.Payload))
		if err != nil {
			continue
		}
		select {
		case s.entries <- *entry:
		default:
			// slow subscriber; it re-syncs from the durable log
		}
	}
}

func (s *redisLogSubscription) Entries() <-chan model.ExecutionLogEntry {
	return s.entries
}

func (s *redisLogSubscription) Close() error {
	return s.pubsub.Close()
}
