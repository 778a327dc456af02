package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fuelsync/fuelsync/internal/fuelprices"
	jobmetrics "github.com/fuelsync/fuelsync/internal/jobs"
)

// IntegrityScanner reports broken price timelines.
type IntegrityScanner interface {
	ScanIntegrity(ctx context.Context) ([]fuelprices.Violation, error)
}

// PriceIntegrityJob scans all price timelines and publishes violation counts.
type PriceIntegrityJob struct {
	Scanner IntegrityScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPriceIntegrityJob initialises the scan handler.
func NewPriceIntegrityJob(scanner IntegrityScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *PriceIntegrityJob {
	return &PriceIntegrityJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes the scan. Violations are reported, never repaired: intervals are
// append-only and a broken timeline needs an operator.
func (j *PriceIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("price integrity: handler not configured")
	}
	var payload PriceIntegrityScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("price integrity: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskPriceIntegrityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("reason", payload.Reason))
	violations, err := j.Scanner.ScanIntegrity(ctx)
	if err != nil {
		resultErr = err
		logger.Error("price integrity scan failed", slog.Any("error", err))
		return resultErr
	}

	counts := map[fuelprices.ViolationKind]int{
		fuelprices.ViolationOverlap:      0,
		fuelprices.ViolationMultipleOpen: 0,
		fuelprices.ViolationInverted:     0,
	}
	for _, v := range violations {
		counts[v.Kind]++
		logger.Warn("price timeline violation",
			slog.String("kind", string(v.Kind)),
			slog.String("timeline", v.Key.String()),
			slog.Any("interval_ids", v.IntervalIDs))
	}
	for kind, n := range counts {
		j.Metrics.SetIntegrityViolations(string(kind), n)
	}

	logger.Info("completed price integrity scan",
		slog.Int("violations", len(violations)),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *PriceIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
