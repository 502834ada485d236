package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// JobRepository handles ranking check job persistence. Admission is a single
// conditional insert so that concurrent enqueues on one class admit exactly
// one job.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, class_id, user_id, keyword_ids, total_keywords, processed_keywords,
	status, error_message, created_at, started_at, completed_at
`

// CreateAdmitted inserts a pending job unless the class already has an
// active one. On conflict the existing job is loaded and returned inside a
// CONFLICT error so callers can render "check already running".
func (r *JobRepository) CreateAdmitted(ctx context.Context, job *models.RankCheckJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = types.JobStatusPending
	job.ProcessedKeywords = 0
	job.CreatedAt = time.Now()

	query := `
		INSERT INTO rank_check_jobs
			(id, class_id, user_id, keyword_ids, total_keywords, processed_keywords, status, created_at)
		SELECT $1, $2, $3, $4, $5, 0, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM rank_check_jobs
			WHERE class_id = $2 AND status IN ('pending', 'processing')
		)
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.ClassID,
		job.UserID,
		job.KeywordIDs,
		job.TotalKeywords,
		job.Status,
		job.CreatedAt,
	)
	if err != nil {
		// The partial unique index on active jobs backstops the conditional
		// insert when two transactions race past the NOT EXISTS check.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, findErr := r.FindActiveByClass(ctx, job.ClassID)
			if findErr == nil && existing != nil {
				return apperrors.NewConflictError(existing.ID, existing.Status)
			}
			return apperrors.NewConflictError("", types.JobStatusPending)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, findErr := r.FindActiveByClass(ctx, job.ClassID)
		if findErr != nil || existing == nil {
			// The competing job finished between our insert and lookup;
			// surface a conflict without details rather than admit twice.
			return apperrors.NewConflictError("", types.JobStatusPending)
		}
		return apperrors.NewConflictError(existing.ID, existing.Status)
	}

	return nil
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.RankCheckJob, error) {
	query := `SELECT ` + jobColumns + ` FROM rank_check_jobs WHERE id = $1`

	job, err := r.scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("job", id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// FindActiveByClass returns the pending or processing job for a class, or
// nil when the class is idle
func (r *JobRepository) FindActiveByClass(ctx context.Context, classID string) (*models.RankCheckJob, error) {
	query := `SELECT ` + jobColumns + ` FROM rank_check_jobs
		WHERE class_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at LIMIT 1`

	job, err := r.scanJob(r.db.Pool().QueryRow(ctx, query, classID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active job: %w", err)
	}

	return job, nil
}

// OldestActive returns the oldest pending or processing job across all
// classes (FIFO fairness), or nil when the queue is idle
func (r *JobRepository) OldestActive(ctx context.Context) (*models.RankCheckJob, error) {
	query := `SELECT ` + jobColumns + ` FROM rank_check_jobs
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at LIMIT 1`

	job, err := r.scanJob(r.db.Pool().QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find oldest active job: %w", err)
	}

	return job, nil
}

// MarkProcessing transitions a pending job to processing and stamps
// started_at. A no-op when the job already left pending.
func (r *JobRepository) MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error {
	query := `
		UPDATE rank_check_jobs
		SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	if _, err := r.db.Pool().Exec(ctx, query, jobID, startedAt); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	return nil
}

// UpdateProgress advances processed_keywords. Progress only moves forward:
// a stale write can never roll the counter back.
func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, processed int) error {
	query := `
		UPDATE rank_check_jobs
		SET processed_keywords = GREATEST(processed_keywords, $2)
		WHERE id = $1 AND status = 'processing'
	`

	if _, err := r.db.Pool().Exec(ctx, query, jobID, processed); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// Complete transitions a processing job to completed
func (r *JobRepository) Complete(ctx context.Context, jobID string, completedAt time.Time) error {
	query := `
		UPDATE rank_check_jobs
		SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'processing'
	`

	if _, err := r.db.Pool().Exec(ctx, query, jobID, completedAt); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail terminally fails a job with a human-readable message
func (r *JobRepository) Fail(ctx context.Context, jobID, message string) error {
	query := `
		UPDATE rank_check_jobs
		SET status = 'failed', error_message = $2, completed_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`

	if _, err := r.db.Pool().Exec(ctx, query, jobID, message); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

func (r *JobRepository) scanJob(row rowScanner) (*models.RankCheckJob, error) {
	var job models.RankCheckJob
	var errorMessage *string

	err := row.Scan(
		&job.ID,
		&job.ClassID,
		&job.UserID,
		&job.KeywordIDs,
		&job.TotalKeywords,
		&job.ProcessedKeywords,
		&job.Status,
		&errorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}

	return &job, nil
}
