// Package service implements the application operations behind the HTTP API:
// check admission and payment settlement.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// ClassReader is the class lookup surface the check service needs
type ClassReader interface {
	GetByID(ctx context.Context, id string) (*models.Class, error)
}

// KeywordCounter resolves how many keywords a job will cover
type KeywordCounter interface {
	CountByClass(ctx context.Context, classID string) (int, error)
	ListByIDs(ctx context.Context, classID string, ids []string) ([]*models.Keyword, error)
}

// JobStore is the job persistence surface the check service needs.
// CreateAdmitted must admit atomically: when a pending or processing job
// already exists for the class it returns a CONFLICT error carrying the
// existing job's id and status, and inserts nothing.
type JobStore interface {
	CreateAdmitted(ctx context.Context, job *models.RankCheckJob) error
	GetByID(ctx context.Context, id string) (*models.RankCheckJob, error)
	FindActiveByClass(ctx context.Context, classID string) (*models.RankCheckJob, error)
}

// CheckService admits ranking-check jobs and serves job reads
type CheckService struct {
	classes  ClassReader
	keywords KeywordCounter
	jobs     JobStore
	logger   *logging.Logger
}

// NewCheckService creates a new check service
func NewCheckService(classes ClassReader, keywords KeywordCounter, jobs JobStore, logger *logging.Logger) *CheckService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CheckService{
		classes:  classes,
		keywords: keywords,
		jobs:     jobs,
		logger:   logger,
	}
}

// EnqueueInput is an enqueue request. Empty KeywordIDs means every keyword of
// the class.
type EnqueueInput struct {
	ClassID    string   `json:"classId"`
	UserID     string   `json:"userId"`
	KeywordIDs []string `json:"keywordIds,omitempty"`
}

// Enqueue admits a ranking-check job for a class. At most one active job per
// class: a duplicate request while one is pending or processing fails with
// CONFLICT, and a class with nothing to check fails with NO_WORK. Admission
// does not check credits; the processor gates each batch against the ledger.
func (s *CheckService) Enqueue(ctx context.Context, input *EnqueueInput) (*models.RankCheckJob, error) {
	if input.ClassID == "" {
		return nil, apperrors.NewInvalidParameterError("classId", "is required")
	}
	if input.UserID == "" {
		return nil, apperrors.NewInvalidParameterError("userId", "is required")
	}

	class, err := s.classes.GetByID(ctx, input.ClassID)
	if err != nil {
		return nil, err
	}

	totalKeywords, err := s.resolveTotal(ctx, class.ID, input.KeywordIDs)
	if err != nil {
		return nil, err
	}
	if totalKeywords == 0 {
		return nil, apperrors.NewNoWorkError(class.ID)
	}

	job := &models.RankCheckJob{
		ID:            uuid.New().String(),
		ClassID:       class.ID,
		UserID:        input.UserID,
		KeywordIDs:    input.KeywordIDs,
		TotalKeywords: totalKeywords,
		Status:        types.JobStatusPending,
		CreatedAt:     time.Now(),
	}

	if err := s.jobs.CreateAdmitted(ctx, job); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"jobId":         job.ID,
		"classId":       class.ID,
		"totalKeywords": totalKeywords,
	}).Info("Rank check job enqueued")

	return job, nil
}

// GetJob returns a job by id
func (s *CheckService) GetJob(ctx context.Context, jobID string) (*models.RankCheckJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ActiveJob returns the active job for a class, or nil when idle
func (s *CheckService) ActiveJob(ctx context.Context, classID string) (*models.RankCheckJob, error) {
	return s.jobs.FindActiveByClass(ctx, classID)
}

func (s *CheckService) resolveTotal(ctx context.Context, classID string, keywordIDs []string) (int, error) {
	if len(keywordIDs) == 0 {
		return s.keywords.CountByClass(ctx, classID)
	}

	found, err := s.keywords.ListByIDs(ctx, classID, keywordIDs)
	if err != nil {
		return 0, err
	}
	if len(found) != len(keywordIDs) {
		return 0, apperrors.NewInvalidParameterError("keywordIds", "contains ids not belonging to the class")
	}
	return len(found), nil
}
