package fleet

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"
	KindDelete   Kind = "delete"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUpload, KindDownload, KindDelete:
		return true
	}
	return false
}

// TransferOutcome is the result of one file operation on one host.
type TransferOutcome struct {
	Path        string `json:"path"`
	Destination string `json:"destination,omitempty"`
	Succeeded   bool   `json:"succeeded"`
	ErrorDetail string `json:"error,omitempty"`
	Attempts    int    `json:"attempts"`
}

// OperationResult is what happened on one host during a run. It is built by
// the goroutine that owns the host job and never touched after it is handed
// to the collector.
type OperationResult struct {
	Host            HostTarget        `json:"host"`
	Kind            Kind              `json:"kind"`
	Succeeded       bool              `json:"succeeded"`
	TotalFiles      int               `json:"total_files"`
	SuccessfulFiles int               `json:"successful_files"`
	FailedFiles     int               `json:"failed_files"`
	Retries         int               `json:"retries"`
	Errors          []string          `json:"errors,omitempty"`
	TopLevelError   string            `json:"top_level_error,omitempty"`
	Outcomes        []TransferOutcome `json:"outcomes,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	Duration        time.Duration     `json:"duration"`
}

func (r *OperationResult) record(o TransferOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Succeeded {
		r.SuccessfulFiles++
		return
	}
	r.FailedFiles++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", o.Path, o.ErrorDetail))
}

func (r *OperationResult) fail(reason string) {
	r.TopLevelError = reason
	r.Errors = append(r.Errors, reason)
}

func (r *OperationResult) finalize() {
	r.Succeeded = r.FailedFiles == 0 && r.TopLevelError == ""
}

// Reason is a one-line human explanation of a failed result.
func (r OperationResult) Reason() string {
	switch {
	case r.TopLevelError != "":
		return r.TopLevelError
	case r.FailedFiles > 0:
		return fmt.Sprintf("%d file(s) failed", r.FailedFiles)
	}
	return ""
}

func (r OperationResult) String() string {
	if r.Succeeded {
		return fmt.Sprintf("✓ %d/%d files", r.SuccessfulFiles, r.TotalFiles)
	}
	return fmt.Sprintf("✗ %s (%d/%d succeeded)", r.Reason(), r.SuccessfulFiles, r.TotalFiles)
}

// FleetReport aggregates every host result of one run, in the order the
// hosts were requested.
type FleetReport struct {
	RunID     string            `json:"run_id"`
	Operation string            `json:"operation"`
	Kind      Kind              `json:"kind"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Results   []OperationResult `json:"results"`
}

func (r *FleetReport) SuccessCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Succeeded {
			n++
		}
	}
	return n
}

func (r *FleetReport) FailureCount() int {
	return len(r.Results) - r.SuccessCount()
}

func (r *FleetReport) Succeeded() bool {
	return r.FailureCount() == 0
}

// Result looks up a host result by hostname, ignoring case.
func (r *FleetReport) Result(hostname string) (OperationResult, bool) {
	for _, res := range r.Results {
		if strings.EqualFold(res.Host.Hostname, hostname) {
			return res, true
		}
	}
	return OperationResult{}, false
}

// Failed returns the results that did not succeed.
func (r *FleetReport) Failed() []OperationResult {
	var failed []OperationResult
	for _, res := range r.Results {
		if !res.Succeeded {
			failed = append(failed, res)
		}
	}
	return failed
}

func (r *FleetReport) Summary() string {
	return fmt.Sprintf("%s: %d/%d hosts succeeded in %s",
		r.Kind, r.SuccessCount(), len(r.Results), FormatElapsed(r.Duration))
}
