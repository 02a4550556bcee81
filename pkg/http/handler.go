package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"fleetsync/pkg/archive"
	"fleetsync/pkg/fleet"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/store"
	"fleetsync/pkg/task"
)

type OperationPublisher interface {
	PublishOperation(payload task.OperationPayload) (*asynq.TaskInfo, error)
}

type ReportReader interface {
	Get(ctx context.Context, runID string) (*fleet.FleetReport, error)
	Latest(ctx context.Context, operation string) (*fleet.FleetReport, error)
	Recent(ctx context.Context, n int) ([]string, error)
}

type ArchiveReader interface {
	Get(ctx context.Context, operation, runID string) (*fleet.FleetReport, error)
}

type HTTPHandler struct {
	publisher OperationPublisher
	reports   ReportReader
	archive   ArchiveReader
	logger    *logger.Logger
}

type PublishRequest struct {
	Operation   string   `json:"operation"`
	Hosts       []string `json:"hosts,omitempty"`
	Region      string   `json:"region,omitempty"`
	Sets        []string `json:"sets,omitempty"`
	Collections []string `json:"collections,omitempty"`
	RequestedBy string   `json:"requested_by,omitempty"`
}

type PublishResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ReportResponse struct {
	Summary string             `json:"summary"`
	Report  *fleet.FleetReport `json:"report"`
}

type RecentResponse struct {
	RunIDs []string `json:"run_ids"`
}

// NewHTTPHandler wires the publish and report endpoints. archive may be nil.
func NewHTTPHandler(publisher OperationPublisher, reports ReportReader, archive ArchiveReader, log *logger.Logger) *HTTPHandler {
	if log == nil {
		log = logger.NewDefault()
	}
	return &HTTPHandler{
		publisher: publisher,
		reports:   reports,
		archive:   archive,
		logger:    log,
	}
}

func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/publish", h.PublishHandler)
	mux.HandleFunc("/reports", h.RecentReportsHandler)
	mux.HandleFunc("/reports/latest", h.LatestReportHandler)
	mux.HandleFunc("/reports/", h.ReportHandler)
	return mux
}

func (h *HTTPHandler) PublishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if req.Operation == "" {
		h.sendErrorResponse(w, http.StatusBadRequest, "operation is required")
		return
	}

	info, err := h.publisher.PublishOperation(task.OperationPayload{
		Operation:   strings.ToLower(req.Operation),
		Hosts:       req.Hosts,
		Region:      req.Region,
		Sets:        req.Sets,
		Collections: req.Collections,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		h.logger.Error("failed to publish task", err, map[string]any{
			"operation": req.Operation,
		})
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "cannot be queued") {
			status = http.StatusBadRequest
		}
		h.sendErrorResponse(w, status, err.Error())
		return
	}

	h.logger.Info("task published via HTTP", map[string]any{
		"operation": req.Operation,
		"task_id":   info.ID,
	})

	h.sendJSON(w, http.StatusOK, PublishResponse{
		Success: true,
		Message: "task published successfully",
		TaskID:  info.ID,
	})
}

// ReportHandler serves /reports/<run_id>. When the report has expired from
// redis and ?operation= is given, the archived copy is returned instead.
func (h *HTTPHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/reports/"), "/")
	if runID == "" || strings.Contains(runID, "/") {
		h.sendErrorResponse(w, http.StatusBadRequest, "run id is required")
		return
	}

	report, err := h.reports.Get(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) && h.archive != nil {
		if op := r.URL.Query().Get("operation"); op != "" {
			report, err = h.archive.Get(r.Context(), op, runID)
		}
	}
	h.sendReport(w, report, err)
}

func (h *HTTPHandler) LatestReportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	op := r.URL.Query().Get("operation")
	if op == "" {
		op = "deploy"
	}

	report, err := h.reports.Latest(r.Context(), op)
	h.sendReport(w, report, err)
}

func (h *HTTPHandler) RecentReportsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.sendErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ids, err := h.reports.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list recent reports", err, nil)
		h.sendErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.sendJSON(w, http.StatusOK, RecentResponse{RunIDs: ids})
}

func (h *HTTPHandler) sendReport(w http.ResponseWriter, report *fleet.FleetReport, err error) {
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, archive.ErrNotArchived) {
			h.sendErrorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("failed to load report", err, nil)
		h.sendErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.sendJSON(w, http.StatusOK, ReportResponse{
		Summary: report.Summary(),
		Report:  report,
	})
}

func (h *HTTPHandler) sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, PublishResponse{
		Success: false,
		Error:   message,
	})
}

func (h *HTTPHandler) sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", err, nil)
	}
}
