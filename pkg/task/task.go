package task

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeFleetOperation = "fleet:operation"
	TaskTypeHookCommand    = "fleet:hook"
)

type OperationPayload struct {
	Operation   string   `json:"operation"`
	Hosts       []string `json:"hosts,omitempty"`
	Region      string   `json:"region,omitempty"`
	Sets        []string `json:"sets,omitempty"`
	Collections []string `json:"collections,omitempty"`
	RequestedBy string   `json:"requested_by,omitempty"`
}

func (p OperationPayload) Validate() error {
	if strings.TrimSpace(p.Operation) == "" {
		return fmt.Errorf("operation is required")
	}
	return nil
}

type HookPayload struct {
	Command string `json:"command"`
	// RunID is the deploy that last triggered the hook.
	RunID string `json:"run_id,omitempty"`
}

func NewOperationTask(p OperationPayload) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskTypeFleetOperation, data), nil
}

func NewHookTask(p HookPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskTypeHookCommand, data), nil
}
