package config

type QueueType string

const QUEUE_TYPE_REDIS QueueType = "redis"
const QUEUE_TYPE_INMEM QueueType = "memory"

type Config struct {
	HttpPort int
	LogLevel string

	RedisConfig  RedisConfig
	SqlitePath   string
	QueueType    QueueType
	LogStoreType QueueType

	WorkspaceRoots []string

	WorkerCount         int
	WorkerPollMillis    int
	SyncTimeoutSeconds  int
	ExecTimeoutSeconds  int
	ClaimTimeoutSeconds int
	MaxDeliveries       int

	RescanIntervalSeconds int
	WatchDebounceMillis   int

	LogPersistIntervalMillis int
	LogPersistBatchSize      int
	LogRetentionEntries      int64

	CancelFlagTTLSeconds int
	QueuePartitions      int
}

type RedisConfig struct {
	Addrs     []string
	Namespace string
}

// Sane defaults for anything the flags leave zero.
func (c *Config) ApplyDefaults() {
	if c.HttpPort == 0 {
		c.HttpPort = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 4
	}
	if c.WorkerPollMillis == 0 {
		c.WorkerPollMillis = 100
	}
	if c.SyncTimeoutSeconds == 0 {
		c.SyncTimeoutSeconds = 300
	}
	if c.ExecTimeoutSeconds == 0 {
		c.ExecTimeoutSeconds = 600
	}
	if c.ClaimTimeoutSeconds == 0 {
		c.ClaimTimeoutSeconds = 60
	}
	if c.MaxDeliveries == 0 {
		c.MaxDeliveries = 3
	}
	if c.RescanIntervalSeconds == 0 {
		c.RescanIntervalSeconds = 300
	}
	if c.WatchDebounceMillis == 0 {
		c.WatchDebounceMillis = 500
	}
	if c.LogPersistIntervalMillis == 0 {
		c.LogPersistIntervalMillis = 200
	}
	if c.LogPersistBatchSize == 0 {
		c.LogPersistBatchSize = 256
	}
	if c.LogRetentionEntries == 0 {
		c.LogRetentionEntries = 10000
	}
	if c.CancelFlagTTLSeconds == 0 {
		c.CancelFlagTTLSeconds = 2 * c.ExecTimeoutSeconds
	}
	if c.QueuePartitions == 0 {
		c.QueuePartitions = 8
	}
	if c.QueueType == "" {
		c.QueueType = QUEUE_TYPE_REDIS
	}
	if c.LogStoreType == "" {
		c.LogStoreType = QUEUE_TYPE_REDIS
	}
}
