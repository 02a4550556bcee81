package fleet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetsync/pkg/logger"
	"fleetsync/pkg/retry"
	"fleetsync/pkg/transfer"
)

type Options struct {
	// MaxConcurrent bounds open sessions across all runs of the orchestrator.
	MaxConcurrent int

	// Timeout is handed to protocol clients for connect, read and write.
	Timeout time.Duration

	RetryAttempts      int
	ConnectRetryDelay  time.Duration
	FileRetryDelay     time.Duration
	ExponentialBackoff bool

	Logger *logger.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrent:      5,
		Timeout:            300 * time.Second,
		RetryAttempts:      3,
		ConnectRetryDelay:  time.Second,
		FileRetryDelay:     2 * time.Second,
		ExponentialBackoff: true,
	}
}

// Lister is what a DiscoverFunc may use to look around a connected host.
type Lister interface {
	ListFiles(ctx context.Context, remoteDir string) []transfer.RemoteFile
}

// DiscoverFunc builds the mapping for one host after it is connected.
type DiscoverFunc func(ctx context.Context, host HostTarget, lister Lister) (FileMapping, error)

type Orchestrator struct {
	factory  transfer.Factory
	gate     *Gate
	opts     Options
	retry    retry.Policy
	log      *logger.Logger
	now      func() time.Time
	newRunID func() string
}

func NewOrchestrator(factory transfer.Factory, opts Options) *Orchestrator {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = DefaultOptions().MaxConcurrent
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault()
	}

	base := retry.DefaultPolicy()
	base.MaxAttempts = opts.RetryAttempts
	base.Exponential = opts.ExponentialBackoff
	base.Logger = log

	return &Orchestrator{
		factory:  factory,
		gate:     NewGate(opts.MaxConcurrent),
		opts:     opts,
		retry:    base,
		log:      log,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

type job struct {
	kind     Kind
	files    FileMapping
	discover DiscoverFunc
	sink     ProgressSink
}

// Run performs kind for every pair of files on every host and waits for all
// host jobs to finish. Configuration errors are returned before any host is
// contacted. Host failures never produce an error here; they are in the report.
func (o *Orchestrator) Run(ctx context.Context, hosts []HostTarget, files FileMapping, kind Kind, sink ProgressSink) (*FleetReport, error) {
	if err := validateRun(hosts, kind); err != nil {
		return nil, err
	}
	if err := files.Validate(kind); err != nil {
		return nil, err
	}
	return o.run(ctx, hosts, job{kind: kind, files: files, sink: sink}), nil
}

// RunDiscovered is Run with a mapping that is worked out per host over the
// host's own session, e.g. by listing its log directories.
func (o *Orchestrator) RunDiscovered(ctx context.Context, hosts []HostTarget, kind Kind, discover DiscoverFunc, sink ProgressSink) (*FleetReport, error) {
	if err := validateRun(hosts, kind); err != nil {
		return nil, err
	}
	if discover == nil {
		return nil, fmt.Errorf("%w: no discovery function", ErrEmptyMapping)
	}
	return o.run(ctx, hosts, job{kind: kind, discover: discover, sink: sink}), nil
}

func validateRun(hosts []HostTarget, kind Kind) error {
	if len(hosts) == 0 {
		return ErrNoHosts
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	seen := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		if err := h.Validate(); err != nil {
			return err
		}
		key := strings.ToLower(h.Hostname)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateHost, h.Hostname)
		}
		seen[key] = struct{}{}
	}
	return nil
}

type hostSlot struct {
	index  int
	result OperationResult
}

func (o *Orchestrator) run(ctx context.Context, hosts []HostTarget, j job) *FleetReport {
	if j.sink == nil {
		j.sink = NopSink()
	}

	started := o.now()
	report := &FleetReport{
		RunID:     o.newRunID(),
		Kind:      j.kind,
		StartedAt: started,
		Results:   make([]OperationResult, len(hosts)),
	}

	o.log.Info("fleet run started", map[string]any{
		"run_id":         report.RunID,
		"kind":           j.kind,
		"hosts":          len(hosts),
		"files":          len(j.files),
		"max_concurrent": o.gate.Size(),
	})

	slots := make(chan hostSlot, len(hosts))
	var wg sync.WaitGroup
	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host HostTarget) {
			defer wg.Done()
			slots <- hostSlot{index: i, result: o.runHost(ctx, host, j)}
		}(i, host)
	}
	go func() {
		wg.Wait()
		close(slots)
	}()

	for slot := range slots {
		report.Results[slot.index] = slot.result
	}

	report.Duration = o.now().Sub(started)
	o.log.Info("fleet run finished", map[string]any{
		"run_id":    report.RunID,
		"kind":      j.kind,
		"succeeded": report.SuccessCount(),
		"failed":    report.FailureCount(),
		"elapsed":   FormatElapsed(report.Duration),
	})
	return report
}

func cancelReason(err error) string {
	return fmt.Sprintf("%v: %v", ErrCancelled, err)
}

func (o *Orchestrator) runHost(ctx context.Context, host HostTarget, j job) (res OperationResult) {
	res = OperationResult{
		Host:       host,
		Kind:       j.kind,
		TotalFiles: len(j.files),
		StartedAt:  o.now(),
	}
	name := host.DisplayName()

	defer func() {
		if r := recover(); r != nil {
			res.fail(fmt.Sprintf("internal error: %v", r))
			o.log.Error("host job panicked", fmt.Errorf("%v", r), map[string]any{"host": name})
		}
		res.Duration = o.now().Sub(res.StartedAt)
		res.finalize()
		j.sink.Report(ProgressEvent{
			Type:           EventHostDone,
			Hostname:       host.Hostname,
			FilesCompleted: len(res.Outcomes),
			TotalFiles:     res.TotalFiles,
			Succeeded:      res.Succeeded,
			Error:          res.Reason(),
		})
	}()

	if err := o.gate.Acquire(ctx); err != nil {
		res.fail(cancelReason(err))
		return res
	}
	defer o.gate.Release()

	if err := ctx.Err(); err != nil {
		res.fail(cancelReason(err))
		return res
	}

	client, err := o.factory.New(host.Endpoint(o.opts.Timeout))
	if err != nil {
		res.fail(fmt.Sprintf("create client: %v", err))
		return res
	}

	fileAttempts := 1
	sess := NewSession(host, client, o.policy(o.opts.ConnectRetryDelay), o.policy(o.opts.FileRetryDelay), o.log)
	sess.onRetry = func(path string, a retry.Attempt) {
		res.Retries++
		fileAttempts++
		j.sink.Report(ProgressEvent{
			Type:           EventRetry,
			Hostname:       host.Hostname,
			CurrentFile:    path,
			FilesCompleted: len(res.Outcomes),
			TotalFiles:     res.TotalFiles,
			Attempt:        a.Number,
			Error:          a.Err.Error(),
		})
	}

	if err := sess.Connect(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.fail(cancelReason(ctxErr))
		} else {
			res.fail(fmt.Sprintf("connect failed: %v", err))
		}
		o.log.Error("host connect failed", err, map[string]any{"host": name})
		return res
	}
	defer sess.Disconnect()

	j.sink.Report(ProgressEvent{
		Type:       EventConnected,
		Hostname:   host.Hostname,
		TotalFiles: res.TotalFiles,
		Succeeded:  true,
	})

	files := j.files.ForHost(host)
	if j.discover != nil {
		files, err = j.discover(ctx, host, sess)
		if err != nil {
			res.fail(fmt.Sprintf("discover files: %v", err))
			return res
		}
		res.TotalFiles = len(files)
	}

	for _, pair := range files {
		if err := ctx.Err(); err != nil {
			res.fail(cancelReason(err))
			break
		}

		fileAttempts = 1
		err := o.transferOne(ctx, sess, j.kind, pair)
		if err != nil && ctx.Err() != nil {
			res.fail(cancelReason(ctx.Err()))
			break
		}

		outcome := TransferOutcome{
			Path:        pair.Source,
			Destination: pair.Destination,
			Succeeded:   err == nil,
			Attempts:    fileAttempts,
		}
		if err != nil {
			outcome.ErrorDetail = err.Error()
		}
		res.record(outcome)

		j.sink.Report(ProgressEvent{
			Type:           EventFile,
			Hostname:       host.Hostname,
			CurrentFile:    pair.Source,
			FilesCompleted: len(res.Outcomes),
			TotalFiles:     res.TotalFiles,
			Succeeded:      outcome.Succeeded,
			Attempt:        outcome.Attempts,
			Error:          outcome.ErrorDetail,
		})
	}

	fields := map[string]any{
		"host":       name,
		"kind":       j.kind,
		"successful": res.SuccessfulFiles,
		"failed":     res.FailedFiles,
		"total":      res.TotalFiles,
		"retries":    res.Retries,
	}
	if res.TopLevelError != "" || res.FailedFiles > 0 {
		o.log.Warn("host job finished with failures", fields)
	} else {
		o.log.Info("host job finished", fields)
	}
	return res
}

func (o *Orchestrator) policy(delay time.Duration) retry.Policy {
	return o.retry.WithDelay(delay)
}

func (o *Orchestrator) transferOne(ctx context.Context, sess *Session, kind Kind, pair FilePair) error {
	switch kind {
	case KindUpload:
		return sess.Upload(ctx, pair.Source, pair.Destination)
	case KindDownload:
		return sess.Download(ctx, pair.Source, pair.Destination)
	case KindDelete:
		return sess.Delete(ctx, pair.Source)
	}
	return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
}
