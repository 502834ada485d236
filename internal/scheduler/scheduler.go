// Package scheduler triggers automatic ranking checks for classes with a
// recurrence schedule.
package scheduler

import (
	"context"
	"math"
	"time"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/service"
	"github.com/rank-tracker/internal/types"
)

// Elapsed thresholds sit one hour under the nominal period so a trigger that
// fires a few minutes early does not push the next check a full cycle out.
const (
	dailyThreshold   = 23 * time.Hour
	weeklyThreshold  = 167 * time.Hour
	monthlyThreshold = 719 * time.Hour
)

// ClassSource lists scheduled classes and records provisional check stamps
type ClassSource interface {
	ListScheduled(ctx context.Context) ([]*models.Class, error)
	StampLastChecked(ctx context.Context, classID string, checkedAt time.Time) error
}

// Enqueuer admits ranking-check jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, input *service.EnqueueInput) (*models.RankCheckJob, error)
}

// Scheduler evaluates class schedules and enqueues checks for the eligible
// ones. Meant to be invoked hourly; overlapping invocations are tolerated.
type Scheduler struct {
	classes ClassSource
	checks  Enqueuer
	logger  *logging.Logger

	// now is replaced in tests
	now func() time.Time
}

// NewScheduler creates a new scheduler
func NewScheduler(classes ClassSource, checks Enqueuer, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Scheduler{
		classes: classes,
		checks:  checks,
		logger:  logger,
		now:     time.Now,
	}
}

// RunResult reports what one trigger invocation did
type RunResult struct {
	CheckedCount  int `json:"checkedCount"`
	EnqueuedCount int `json:"enqueuedCount"`
	SkippedCount  int `json:"skippedCount"`
}

// Run evaluates every scheduled class once. A class already being checked
// (CONFLICT) or with nothing to check (NO_WORK) is a benign skip. The
// last-checked time is stamped provisionally at trigger time so overlapping
// trigger runs do not both enqueue the same class.
func (s *Scheduler) Run(ctx context.Context) (*RunResult, error) {
	classes, err := s.classes.ListScheduled(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &RunResult{CheckedCount: len(classes)}

	for _, class := range classes {
		if !s.eligible(class, now) {
			continue
		}

		log := s.logger.WithFields(map[string]interface{}{
			"classId":    class.ID,
			"recurrence": string(*class.Recurrence),
		})

		_, err := s.checks.Enqueue(ctx, &service.EnqueueInput{
			ClassID: class.ID,
			UserID:  class.UserID,
		})
		if err != nil {
			switch {
			case apperrors.Is(err, apperrors.CodeConflict):
				log.Debug("Check already running, skipping")
			case apperrors.Is(err, apperrors.CodeNoWork):
				log.Debug("No keywords to check, skipping")
			default:
				log.WithError(err).Error("Failed to enqueue scheduled check")
			}
			result.SkippedCount++
			continue
		}

		if err := s.classes.StampLastChecked(ctx, class.ID, now); err != nil {
			log.WithError(err).Warn("Failed to stamp provisional check time")
		}

		log.Info("Scheduled check enqueued")
		result.EnqueuedCount++
	}

	return result, nil
}

// eligible applies the cadence rules for one class at the given instant
func (s *Scheduler) eligible(class *models.Class, now time.Time) bool {
	if class.Recurrence == nil {
		return false
	}
	if now.Hour() != class.CheckHour {
		return false
	}

	// Never checked counts as infinitely long ago.
	elapsed := time.Duration(math.MaxInt64)
	if class.LastCheckedAt != nil {
		elapsed = now.Sub(*class.LastCheckedAt)
	}

	switch *class.Recurrence {
	case types.RecurrenceDaily:
		return elapsed >= dailyThreshold
	case types.RecurrenceWeekly:
		return elapsed >= weeklyThreshold && int(now.Weekday()) == class.CheckWeekday
	case types.RecurrenceMonthly:
		return elapsed >= monthlyThreshold && now.Day() == class.CheckMonthDay
	default:
		return false
	}
}
