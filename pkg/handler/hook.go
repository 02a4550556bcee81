package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"fleetsync/pkg/config"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/task"
)

type HookScheduler interface {
	ShouldExecute(ctx context.Context) (bool, error)
	MarkCompleted(ctx context.Context) error
	Reschedule(payload []byte) error
}

type HookHandler struct {
	config    *config.HookConfig
	logger    *logger.Logger
	scheduler HookScheduler
}

func NewHookHandler(config *config.HookConfig, logger *logger.Logger, scheduler HookScheduler) *HookHandler {
	return &HookHandler{
		config:    config,
		logger:    logger,
		scheduler: scheduler,
	}
}

func (h *HookHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload task.HookPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal hook payload: %v: %w", err, asynq.SkipRetry)
	}

	shouldExecute, err := h.scheduler.ShouldExecute(ctx)
	if err != nil {
		return fmt.Errorf("failed to check hook execution condition: %w", err)
	}
	if !shouldExecute {
		if err := h.scheduler.Reschedule(t.Payload()); err != nil {
			h.logger.Error("failed to reschedule hook task", err, map[string]any{
				"delay_minutes": h.config.DebounceMinutes,
			})
			return err
		}

		h.logger.Info("hook task rescheduled due to debounce", map[string]any{
			"delay_minutes": h.config.DebounceMinutes,
		})
		return nil
	}

	parts := strings.Fields(payload.Command)
	if len(parts) == 0 {
		if markErr := h.scheduler.MarkCompleted(ctx); markErr != nil {
			h.logger.Error("failed to mark hook task as completed", markErr, nil)
		}
		return fmt.Errorf("empty hook command: %w", asynq.SkipRetry)
	}

	startTime := time.Now()
	h.logger.Info("executing post-deploy hook", map[string]any{
		"command":         payload.Command,
		"run_id":          payload.RunID,
		"timeout_minutes": h.config.TimeoutMinutes,
	})

	timeout := time.Duration(h.config.TimeoutMinutes) * time.Minute
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, parts[0], parts[1:]...)
	output, err := cmd.CombinedOutput()
	duration := time.Since(startTime)

	if markErr := h.scheduler.MarkCompleted(ctx); markErr != nil {
		h.logger.Error("failed to mark hook task as completed", markErr, nil)
		if err == nil {
			return fmt.Errorf("failed to mark hook task as completed: %w", markErr)
		}
	}

	if err != nil {
		errorType := "command_error"
		if timeoutCtx.Err() == context.DeadlineExceeded {
			errorType = "timeout"
		}

		h.logger.Error("hook command failed", err, map[string]any{
			"command":    payload.Command,
			"output":     string(output),
			"duration":   duration,
			"error_type": errorType,
		})
		return fmt.Errorf("hook command execution failed: %w", err)
	}

	h.logger.Info("hook command executed successfully", map[string]any{
		"command":  payload.Command,
		"output":   strings.TrimSpace(string(output)),
		"duration": duration,
	})
	return nil
}
