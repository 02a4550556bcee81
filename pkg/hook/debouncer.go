package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"fleetsync/pkg/config"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/task"
)

const (
	hookDebounceStateKey = "fleet_hook_debounce_state"
)

type Enqueuer interface {
	Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type DebounceState struct {
	LastRequestTime   int64  `json:"last_request_time"`
	PendingTaskExists bool   `json:"pending_task_exists"`
	LastRunID         string `json:"last_run_id,omitempty"`
}

// Debouncer collapses a burst of deploys into one post-deploy command run.
// The command is scheduled once, and only executes after a full window has
// passed without another deploy.
type Debouncer struct {
	redisClient *redis.Client
	enqueuer    Enqueuer
	config      *config.HookConfig
	logger      *logger.Logger
	now         func() time.Time
}

func NewDebouncer(redisClient *redis.Client, enqueuer Enqueuer, config *config.HookConfig, logger *logger.Logger) *Debouncer {
	return &Debouncer{
		redisClient: redisClient,
		enqueuer:    enqueuer,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

func (d *Debouncer) Window() time.Duration {
	return time.Duration(d.config.DebounceMinutes) * time.Minute
}

func (d *Debouncer) Trigger(ctx context.Context, runID string) error {
	if !d.config.Enabled || d.config.Command == "" {
		return nil
	}

	state, err := d.getDebounceState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get debounce state: %w", err)
	}

	state.LastRequestTime = d.now().Unix()
	state.LastRunID = runID

	if state.PendingTaskExists {
		if err := d.saveDebounceState(ctx, state); err != nil {
			return fmt.Errorf("failed to save debounce state: %w", err)
		}
		d.logger.Info("hook debounce request updated", map[string]any{
			"run_id": runID,
		})
		return nil
	}

	state.PendingTaskExists = true
	if err := d.saveDebounceState(ctx, state); err != nil {
		return fmt.Errorf("failed to save debounce state: %w", err)
	}

	t, err := task.NewHookTask(task.HookPayload{Command: d.config.Command, RunID: runID})
	if err != nil {
		return err
	}
	if _, err := d.enqueuer.Enqueue(t, asynq.ProcessIn(d.Window())); err != nil {
		return fmt.Errorf("failed to enqueue hook task: %w", err)
	}

	d.logger.Info("hook debounce task created", map[string]any{
		"run_id":        runID,
		"delay_minutes": d.config.DebounceMinutes,
	})
	return nil
}

// Reschedule puts the hook task back for another window.
func (d *Debouncer) Reschedule(payload []byte) error {
	t := asynq.NewTask(task.TaskTypeHookCommand, payload)
	if _, err := d.enqueuer.Enqueue(t, asynq.ProcessIn(d.Window())); err != nil {
		return fmt.Errorf("failed to reschedule hook task: %w", err)
	}
	return nil
}

func (d *Debouncer) ShouldExecute(ctx context.Context) (bool, error) {
	state, err := d.getDebounceState(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get debounce state: %w", err)
	}

	window := int64(d.config.DebounceMinutes * 60)
	return d.now().Unix()-state.LastRequestTime >= window, nil
}

func (d *Debouncer) MarkCompleted(ctx context.Context) error {
	state, err := d.getDebounceState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get debounce state: %w", err)
	}

	state.PendingTaskExists = false
	if err := d.saveDebounceState(ctx, state); err != nil {
		return fmt.Errorf("failed to save debounce state: %w", err)
	}
	return nil
}

func (d *Debouncer) getDebounceState(ctx context.Context) (*DebounceState, error) {
	result, err := d.redisClient.Get(ctx, hookDebounceStateKey).Result()
	if err != nil {
		if err == redis.Nil {
			return &DebounceState{}, nil
		}
		return nil, err
	}

	var state DebounceState
	if err := json.Unmarshal([]byte(result), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal debounce state: %w", err)
	}
	return &state, nil
}

func (d *Debouncer) saveDebounceState(ctx context.Context, state *DebounceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal debounce state: %w", err)
	}

	return d.redisClient.Set(ctx, hookDebounceStateKey, data, 2*d.Window()).Err()
}
