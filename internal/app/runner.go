package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fleetsync/pkg/config"
	"fleetsync/pkg/fleet"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/mapping"
	"fleetsync/pkg/transfer"
)

type Operation string

const (
	OpDeploy  Operation = "deploy"
	OpCollect Operation = "collect"
	OpPurge   Operation = "purge"
	OpPlan    Operation = "plan"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrUnknownHost      = errors.New("unknown host")
)

func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(s))); op {
	case OpDeploy, OpCollect, OpPurge, OpPlan:
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

func (op Operation) Kind() fleet.Kind {
	switch op {
	case OpCollect:
		return fleet.KindDownload
	case OpPurge:
		return fleet.KindDelete
	}
	return fleet.KindUpload
}

// Request selects what to do and where. Hosts wins over Region; with neither
// every enabled host is used.
type Request struct {
	Operation   Operation `json:"operation"`
	Hosts       []string  `json:"hosts,omitempty"`
	Region      string    `json:"region,omitempty"`
	Sets        []string  `json:"sets,omitempty"`
	Collections []string  `json:"collections,omitempty"`
	DryRun      bool      `json:"dry_run,omitempty"`
}

// Plan is what a run would touch. Mapping is only known up front for deploys;
// collect and purge discover their files on each host.
type Plan struct {
	Operation   Operation          `json:"operation"`
	Hosts       []fleet.HostTarget `json:"hosts"`
	Mapping     fleet.FileMapping  `json:"mapping,omitempty"`
	Collections []string           `json:"collections,omitempty"`
}

// Outcome carries a Plan for plan and dry-run requests, a Report otherwise.
type Outcome struct {
	Plan   *Plan              `json:"plan,omitempty"`
	Report *fleet.FleetReport `json:"report,omitempty"`
}

type Runner struct {
	config       *config.Config
	orchestrator *fleet.Orchestrator
	builder      *mapping.Builder
	logger       *logger.Logger
}

func NewRunner(cfg *config.Config, factory transfer.Factory, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Runner{
		config:       cfg,
		orchestrator: fleet.NewOrchestrator(factory, cfg.OrchestratorOptions(log)),
		builder:      mapping.NewBuilder(cfg, log),
		logger:       log,
	}
}

func (r *Runner) SelectHosts(req Request) ([]fleet.HostTarget, error) {
	if len(req.Hosts) > 0 {
		var hosts []fleet.HostTarget
		for _, name := range req.Hosts {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			h, ok := r.config.HostByName(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownHost, name)
			}
			hosts = append(hosts, h)
		}
		if len(hosts) == 0 {
			return nil, fleet.ErrNoHosts
		}
		return hosts, nil
	}

	var hosts []fleet.HostTarget
	if req.Region != "" {
		hosts = r.config.HostsByRegion(req.Region)
	} else {
		hosts = r.config.EnabledHosts()
	}
	if len(hosts) == 0 {
		if req.Region != "" {
			return nil, fmt.Errorf("%w in region %s", fleet.ErrNoHosts, req.Region)
		}
		return nil, fleet.ErrNoHosts
	}
	return hosts, nil
}

func (r *Runner) Plan(req Request) (*Plan, error) {
	hosts, err := r.SelectHosts(req)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Operation: req.Operation, Hosts: hosts}
	switch req.Operation {
	case OpDeploy, OpPlan:
		if plan.Mapping, err = r.builder.Deploy(req.Sets); err != nil {
			return nil, err
		}
	case OpCollect, OpPurge:
		cols, err := r.builder.SelectCollections(req.Collections)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			plan.Collections = append(plan.Collections, c.Name)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}
	return plan, nil
}

// Execute runs req against the fleet. Errors are configuration problems found
// before any host is contacted; host failures are reported in the Outcome.
func (r *Runner) Execute(ctx context.Context, req Request, sink fleet.ProgressSink) (*Outcome, error) {
	if req.Operation == OpPlan || req.DryRun {
		plan, err := r.Plan(req)
		if err != nil {
			return nil, err
		}
		return &Outcome{Plan: plan}, nil
	}

	hosts, err := r.SelectHosts(req)
	if err != nil {
		return nil, err
	}

	var report *fleet.FleetReport
	switch req.Operation {
	case OpDeploy:
		files, err := r.builder.Deploy(req.Sets)
		if err != nil {
			return nil, err
		}
		report, err = r.orchestrator.Run(ctx, hosts, files, fleet.KindUpload, sink)
		if err != nil {
			return nil, err
		}
	case OpCollect:
		discover, err := r.builder.Collect(req.Collections)
		if err != nil {
			return nil, err
		}
		report, err = r.orchestrator.RunDiscovered(ctx, hosts, fleet.KindDownload, discover, sink)
		if err != nil {
			return nil, err
		}
	case OpPurge:
		discover, err := r.builder.Purge(req.Collections)
		if err != nil {
			return nil, err
		}
		report, err = r.orchestrator.RunDiscovered(ctx, hosts, fleet.KindDelete, discover, sink)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}

	report.Operation = string(req.Operation)
	r.logger.Info("operation finished", map[string]any{
		"run_id":    report.RunID,
		"operation": req.Operation,
		"summary":   report.Summary(),
	})
	return &Outcome{Report: report}, nil
}
