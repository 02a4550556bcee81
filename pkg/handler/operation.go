package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"fleetsync/internal/app"
	"fleetsync/pkg/fleet"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/progress"
	"fleetsync/pkg/task"
)

type Executor interface {
	Execute(ctx context.Context, req app.Request, sink fleet.ProgressSink) (*app.Outcome, error)
}

type ReportSaver interface {
	Save(ctx context.Context, report *fleet.FleetReport) error
}

type ReportArchiver interface {
	Put(ctx context.Context, report *fleet.FleetReport) (string, error)
}

type HookTrigger interface {
	Trigger(ctx context.Context, runID string) error
}

// OperationHandler runs queued fleet operations. Host failures are part of
// the stored report and do not fail the task; only bad requests and
// bookkeeping errors do.
type OperationHandler struct {
	executor       Executor
	store          ReportSaver
	archiver       ReportArchiver
	hook           HookTrigger
	logger         *logger.Logger
	progressBuffer int
}

func NewOperationHandler(executor Executor, store ReportSaver, archiver ReportArchiver, hook HookTrigger, logger *logger.Logger, progressBuffer int) *OperationHandler {
	return &OperationHandler{
		executor:       executor,
		store:          store,
		archiver:       archiver,
		hook:           hook,
		logger:         logger,
		progressBuffer: progressBuffer,
	}
}

func (h *OperationHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload task.OperationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal operation payload: %v: %w", err, asynq.SkipRetry)
	}

	op, err := app.ParseOperation(payload.Operation)
	if err != nil || op == app.OpPlan {
		return fmt.Errorf("operation %q cannot be run by the daemon: %w", payload.Operation, asynq.SkipRetry)
	}

	req := app.Request{
		Operation:   op,
		Hosts:       payload.Hosts,
		Region:      payload.Region,
		Sets:        payload.Sets,
		Collections: payload.Collections,
	}

	h.logger.Info("processing fleet operation", map[string]any{
		"operation":    op,
		"hosts":        len(payload.Hosts),
		"region":       payload.Region,
		"requested_by": payload.RequestedBy,
	})

	sink := progress.NewAsyncSink(progress.NewLogSink(h.logger), h.progressBuffer)
	outcome, err := h.executor.Execute(ctx, req, sink)
	sink.Close()
	if dropped := sink.Dropped(); dropped > 0 {
		h.logger.Warn("progress events dropped", map[string]any{"dropped": dropped})
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("fleet operation rejected: %v: %w", err, asynq.SkipRetry)
	}

	report := outcome.Report
	if err := h.store.Save(ctx, report); err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}

	if h.archiver != nil {
		if _, err := h.archiver.Put(ctx, report); err != nil {
			h.logger.Error("failed to archive report", err, map[string]any{
				"run_id": report.RunID,
			})
		}
	}

	if op == app.OpDeploy && report.SuccessCount() > 0 && h.hook != nil {
		if err := h.hook.Trigger(ctx, report.RunID); err != nil {
			h.logger.Error("failed to trigger post-deploy hook", err, map[string]any{
				"run_id": report.RunID,
			})
		}
	}

	fields := map[string]any{
		"run_id":    report.RunID,
		"operation": op,
		"succeeded": report.SuccessCount(),
		"failed":    report.FailureCount(),
	}
	if report.Succeeded() {
		h.logger.Info("fleet operation completed", fields)
	} else {
		h.logger.Warn("fleet operation completed with failures", fields)
	}
	return nil
}
