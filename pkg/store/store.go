package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetsync/pkg/fleet"
	"fleetsync/pkg/logger"
)

const (
	reportKeyPrefix = "fleet_report:"
	latestKeyPrefix = "fleet_report_latest:"
	recentKey       = "fleet_reports_recent"

	recentLimit = 50
)

var ErrNotFound = errors.New("report not found")

// ReportStore keeps finished fleet reports in redis so that the daemon's HTTP
// surface can serve them after the worker that produced them is done.
type ReportStore struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *logger.Logger
}

func NewReportStore(redisClient *redis.Client, ttl time.Duration, log *logger.Logger) *ReportStore {
	if log == nil {
		log = logger.NewDefault()
	}
	return &ReportStore{
		redisClient: redisClient,
		ttl:         ttl,
		logger:      log,
	}
}

func reportKey(runID string) string {
	return reportKeyPrefix + runID
}

func latestKey(operation string) string {
	return latestKeyPrefix + strings.ToLower(operation)
}

// Save stores the report under its run id and marks it as the latest run of
// its operation.
func (s *ReportStore) Save(ctx context.Context, report *fleet.FleetReport) error {
	if report.RunID == "" {
		return fmt.Errorf("report has no run id")
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	pipe := s.redisClient.TxPipeline()
	pipe.Set(ctx, reportKey(report.RunID), data, s.ttl)
	pipe.Set(ctx, latestKey(report.Operation), report.RunID, s.ttl)
	pipe.LPush(ctx, recentKey, report.RunID)
	pipe.LTrim(ctx, recentKey, 0, recentLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	s.logger.Info("fleet report saved", map[string]any{
		"run_id":    report.RunID,
		"operation": report.Operation,
	})
	return nil
}

func (s *ReportStore) Get(ctx context.Context, runID string) (*fleet.FleetReport, error) {
	result, err := s.redisClient.Get(ctx, reportKey(runID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report fleet.FleetReport
	if err := json.Unmarshal([]byte(result), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

func (s *ReportStore) Latest(ctx context.Context, operation string) (*fleet.FleetReport, error) {
	runID, err := s.redisClient.Get(ctx, latestKey(operation)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: no %s run recorded", ErrNotFound, operation)
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return s.Get(ctx, runID)
}

// Recent lists up to n run ids, newest first. Ids may outlive their reports.
func (s *ReportStore) Recent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 || n > recentLimit {
		n = recentLimit
	}
	ids, err := s.redisClient.LRange(ctx, recentKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent runs: %w", err)
	}
	return ids, nil
}
