package agent

import (
	"database/sql"
	"sync"
	"time"

	"github.com/flowplane/flowplane/config"
	"github.com/flowplane/flowplane/dataprovider"
	"github.com/flowplane/flowplane/dispatcher"
	"github.com/flowplane/flowplane/executor"
	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/logstream"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/persistence/inmem"
	rd "github.com/flowplane/flowplane/persistence/redis"
	"github.com/flowplane/flowplane/persistence/sqlite"
	"github.com/flowplane/flowplane/registry"
	"github.com/flowplane/flowplane/rest"
	"github.com/flowplane/flowplane/scanner"
	"github.com/flowplane/flowplane/schedule"
	"github.com/flowplane/flowplane/util"
	"github.com/flowplane/flowplane/writebuffer"
	"go.uber.org/zap"
)

// Agent wires the whole server together: durable sqlite storage, the
// redis-backed (or in-memory) transient stores, the discovery pipeline,
// the dispatcher, the worker pool and the http surface.
type Agent struct {
	Config config.Config

	db           *sql.DB
	registrySvc  *registry.Service
	synchronizer *registry.Synchronizer
	watcher      *registry.Watcher
	rescanTicker *util.TickWorker
	router       *logstream.Router
	persister    *logstream.Persister
	forwarder    *logstream.Forwarder
	dispatcher   *dispatcher.Dispatcher
	pool         *executor.Pool
	scheduler    *schedule.Scheduler
	providers    *dataprovider.Service
	httpServer   *rest.Server

	queue      persistence.Queue
	flags      persistence.CancelFlags
	executions persistence.ExecutionStorage
	writes     *writebuffer.Manager
	waiters    *dispatcher.WaiterRegistry

	wg sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	conf.ApplyDefaults()
	a := &Agent{Config: conf}
	setup := []func() error{
		a.setupStorage,
		a.setupDiscovery,
		a.setupLogStream,
		a.setupDispatcher,
		a.setupWorkerPool,
		a.setupScheduler,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	db, err := sqlite.Open(a.Config.SqlitePath)
	if err != nil {
		return err
	}
	a.db = db
	a.executions = sqlite.NewExecutionStorage(db)
	a.registrySvc = registry.NewService(sqlite.NewRegistryStorage(db))

	if a.Config.QueueType == config.QUEUE_TYPE_REDIS {
		redisConf := rd.Config{
			Addrs:      a.Config.RedisConfig.Addrs,
			Namespace:  a.Config.RedisConfig.Namespace,
			Partitions: a.Config.QueuePartitions,
		}
		a.queue = rd.NewRedisQueue(redisConf)
		a.flags = rd.NewRedisCancelFlags(redisConf)
	} else {
		a.queue = inmem.NewInMemQueue()
		a.flags = inmem.NewInMemCancelFlags()
	}
	return nil
}

func (a *Agent) setupDiscovery() error {
	sc := scanner.NewScanner(a.Config.WorkspaceRoots)
	a.synchronizer = registry.NewSynchronizer(sc, sqlite.NewRegistryStorage(a.db))

	watcher, err := registry.NewWatcher(a.Config.WorkspaceRoots,
		time.Duration(a.Config.WatchDebounceMillis)*time.Millisecond, a.synchronizer)
	if err != nil {
		return err
	}
	a.watcher = watcher

	a.rescanTicker = util.NewTickWorker("workspace-rescan",
		time.Duration(a.Config.RescanIntervalSeconds)*time.Second,
		a.synchronizer.Trigger, &a.wg)
	return nil
}

func (a *Agent) setupLogStream() error {
	var store persistence.LogStore
	var broadcast persistence.LogBroadcast
	if a.Config.LogStoreType == config.QUEUE_TYPE_REDIS {
		redisConf := rd.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		}
		store = rd.NewRedisLogStore(redisConf, a.Config.LogRetentionEntries)
		broadcast = rd.NewRedisLogBroadcast(redisConf)
	} else {
		store = inmem.NewInMemLogStore(int(a.Config.LogRetentionEntries))
		broadcast = inmem.NewInMemLogBroadcast()
	}
	a.router = logstream.NewRouter(store, broadcast)
	a.persister = logstream.NewPersister(store, a.executions,
		time.Duration(a.Config.LogPersistIntervalMillis)*time.Millisecond,
		a.Config.LogPersistBatchSize, &a.wg)
	a.forwarder = logstream.NewForwarder(store, broadcast, a.Config.LogPersistBatchSize)
	return nil
}

func (a *Agent) setupDispatcher() error {
	a.waiters = dispatcher.NewWaiterRegistry()
	a.dispatcher = dispatcher.NewDispatcher(a.registrySvc, a.executions, a.queue, a.flags, a.waiters,
		dispatcher.Config{
			SyncTimeout:   time.Duration(a.Config.SyncTimeoutSeconds) * time.Second,
			ExecTimeout:   time.Duration(a.Config.ExecTimeoutSeconds) * time.Second,
			CancelFlagTTL: time.Duration(a.Config.CancelFlagTTLSeconds) * time.Second,
		})

	var writeStore persistence.PendingWriteStore
	if a.Config.QueueType == config.QUEUE_TYPE_REDIS {
		writeStore = rd.NewRedisPendingWriteStore(rd.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		})
	} else {
		writeStore = inmem.NewInMemPendingWriteStore()
	}
	a.writes = writebuffer.NewManager(writeStore, sqlite.NewPlatformStorage(a.db))
	return nil
}

func (a *Agent) setupWorkerPool() error {
	a.pool = executor.NewPool(executor.Config{
		Workers:        a.Config.WorkerCount,
		PollInterval:   time.Duration(a.Config.WorkerPollMillis) * time.Millisecond,
		ClaimTimeout:   time.Duration(a.Config.ClaimTimeoutSeconds) * time.Second,
		MaxDeliveries:  a.Config.MaxDeliveries,
		DefaultTimeout: time.Duration(a.Config.ExecTimeoutSeconds) * time.Second,
	}, a.queue, a.flags, a.executions, a.router, a.writes, a.waiters)
	a.pool.OnFinish(a.persister.Release)
	return nil
}

func (a *Agent) setupScheduler() error {
	a.scheduler = schedule.NewScheduler(a.dispatcher)
	a.providers = dataprovider.NewService(a.registrySvc)
	a.synchronizer.OnSync(func(result *scanner.ScanResult) {
		a.scheduler.Reload(result.Workflows)
		for _, p := range result.Providers {
			a.providers.Invalidate(p.Name)
		}
	})
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.dispatcher, a.registrySvc,
		a.providers, a.executions, a.forwarder, a.synchronizer)
	return err
}

func (a *Agent) Start() error {
	logger.InitLogger(a.Config.LogLevel)

	// first pass before anything can dispatch
	a.synchronizer.Trigger()
	a.synchronizer.Wait()

	a.persister.Start()
	a.pool.Start()
	a.scheduler.Start()
	a.watcher.Start()
	a.rescanTicker.Start()

	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	a.httpServer.Stop()
	a.rescanTicker.Stop()
	a.watcher.Stop()
	a.scheduler.Stop()
	a.pool.Stop()
	a.persister.Stop()
	a.wg.Wait()
	if err := a.db.Close(); err != nil {
		logger.Error("error closing sqlite", zap.Error(err))
	}
	logger.Sync()
	return nil
}
