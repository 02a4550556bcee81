package publisher

import (
	"fmt"
	"time"

	"fleetsync/pkg/config"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/task"

	"github.com/hibiken/asynq"
)

type enqueuer interface {
	Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type Publisher struct {
	client enqueuer
	config *config.Config
}

func NewPublisher(config *config.Config) (*Publisher, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)

	return &Publisher{
		client: client,
		config: config,
	}, nil
}

func (p *Publisher) Close() {
	_ = p.client.Close()
}

// PublishOperation enqueues a fleet operation for the daemon. Plans are local
// only and are rejected here.
func (p *Publisher) PublishOperation(payload task.OperationPayload) (*asynq.TaskInfo, error) {
	switch payload.Operation {
	case "deploy", "collect", "purge":
	case "":
		return nil, fmt.Errorf("operation is required")
	default:
		return nil, fmt.Errorf("operation cannot be queued: %s", payload.Operation)
	}

	t, err := task.NewOperationTask(payload)
	if err != nil {
		return nil, err
	}

	info, err := p.client.Enqueue(
		t,
		asynq.MaxRetry(p.config.Publish.MaxRetry),
		asynq.Timeout(time.Duration(p.config.Publish.TimeoutMinutes)*time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	logger.Info("task enqueued successfully", map[string]any{
		"task_id":   info.ID,
		"queue":     info.Queue,
		"operation": payload.Operation,
		"hosts":     len(payload.Hosts),
		"region":    payload.Region,
	})
	return info, nil
}
