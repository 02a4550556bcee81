package daemon

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"fleetsync/internal/app"
	"fleetsync/pkg/archive"
	"fleetsync/pkg/config"
	"fleetsync/pkg/handler"
	"fleetsync/pkg/hook"
	httpHandler "fleetsync/pkg/http"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/publisher"
	"fleetsync/pkg/store"
	"fleetsync/pkg/task"
	"fleetsync/pkg/transfer"
)

type DaemonService struct {
	server           *asynq.Server
	httpServer       *http.Server
	operationHandler *handler.OperationHandler
	hookHandler      *handler.HookHandler
	publisher        *publisher.Publisher
	asyncClient      *asynq.Client
	redisClient      *redis.Client
	config           *config.Config
}

func NewDaemonService(config *config.Config) (*DaemonService, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: config.Daemon.Concurrency,
		Queues: map[string]int{
			"default": 6,
		},
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	asyncClient := asynq.NewClient(redisOpt)

	log := logger.NewDefault()
	reports := store.NewReportStore(redisClient, config.ReportTTL(), log)

	var archiver handler.ReportArchiver
	var archiveReader httpHandler.ArchiveReader
	if config.Archive.Enabled {
		s3Client, err := archive.NewS3Client(&config.Archive)
		if err != nil {
			return nil, fmt.Errorf("create archive client: %w", err)
		}
		a := archive.New(s3Client, config.Archive.Bucket, config.Archive.Prefix, log)
		archiver, archiveReader = a, a
		logger.Info("report archive enabled", map[string]any{
			"bucket": config.Archive.Bucket,
			"prefix": config.Archive.Prefix,
		})
	}

	var trigger handler.HookTrigger
	debouncer := hook.NewDebouncer(redisClient, asyncClient, &config.Hook, log)
	if config.Hook.Enabled {
		trigger = debouncer
	}

	runner := app.NewRunner(config, transfer.NewFactory(), log)
	operationHandler := handler.NewOperationHandler(runner, reports, archiver, trigger, log, config.Transfer.ProgressBuffer)
	hookHandler := handler.NewHookHandler(&config.Hook, log, debouncer)

	pub, err := publisher.NewPublisher(config)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	routes := httpHandler.NewHTTPHandler(pub, reports, archiveReader, log).Routes()
	httpServer := &http.Server{
		Addr:    config.HTTP.Addr,
		Handler: routes,
	}

	return &DaemonService{
		server:           server,
		httpServer:       httpServer,
		operationHandler: operationHandler,
		hookHandler:      hookHandler,
		publisher:        pub,
		asyncClient:      asyncClient,
		redisClient:      redisClient,
		config:           config,
	}, nil
}

func (d *DaemonService) Start() error {
	go func() {
		logger.Info("starting HTTP server", map[string]any{
			"addr": d.config.HTTP.Addr,
		})

		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", err, nil)
		}
	}()

	logger.Info("starting Asynq server", map[string]any{
		"hosts":          len(d.config.EnabledHosts()),
		"max_concurrent": d.config.Transfer.MaxConcurrent,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(task.TaskTypeFleetOperation, d.operationHandler.ProcessTask)
	mux.HandleFunc(task.TaskTypeHookCommand, d.hookHandler.ProcessTask)
	return d.server.Run(mux)
}

func (d *DaemonService) Shutdown(ctx context.Context) error {
	logger.Info("initiating graceful shutdown", nil)

	if err := d.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", err, nil)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.server.Shutdown()
		d.publisher.Close()
		_ = d.asyncClient.Close()
		_ = d.redisClient.Close()
	}()

	select {
	case <-done:
		logger.Info("all tasks completed, shutdown successful", nil)
		return nil
	case <-ctx.Done():
		logger.Warn("shutdown timeout, forcing exit", nil)
		return ctx.Err()
	}
}
