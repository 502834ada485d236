// Package worker implements the queue processor. One invocation processes one
// bounded batch of one job, then returns, so a single run stays within strict
// execution limits and crash recovery is just re-invocation.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/credit"
	"github.com/rank-tracker/internal/logging"
	"github.com/rank-tracker/internal/matcher"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/serp"
	"github.com/rank-tracker/internal/types"
)

// SerpFetcher fetches the ranked results for one keyword
type SerpFetcher interface {
	Fetch(ctx context.Context, params serp.FetchParams) ([]types.SerpResult, error)
}

// JobQueue is the job persistence surface the processor needs
type JobQueue interface {
	// OldestActive returns the oldest pending or processing job, or nil when
	// the queue is idle.
	OldestActive(ctx context.Context) (*models.RankCheckJob, error)
	MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error
	// UpdateProgress persists the counter forward only; a stale write never
	// decreases it.
	UpdateProgress(ctx context.Context, jobID string, processed int) error
	Complete(ctx context.Context, jobID string, completedAt time.Time) error
	Fail(ctx context.Context, jobID, message string) error
}

// ClassStore is the class surface the processor needs
type ClassStore interface {
	GetByID(ctx context.Context, id string) (*models.Class, error)
	StampLastChecked(ctx context.Context, classID string, checkedAt time.Time) error
}

// KeywordStore is the keyword surface the processor needs. List order must be
// stable across invocations so offset slicing resumes where it left off.
type KeywordStore interface {
	ListByClass(ctx context.Context, classID string) ([]*models.Keyword, error)
	ListByIDs(ctx context.Context, classID string, ids []string) ([]*models.Keyword, error)
	UpdateRanking(ctx context.Context, keyword *models.Keyword) error
}

// HistoryAppender records immutable ranking snapshots, one insert per batch
type HistoryAppender interface {
	BatchAppend(ctx context.Context, records []*models.RankingHistoryRecord) error
}

// ResultCache stores the latest fetched result set per keyword
type ResultCache interface {
	Set(ctx context.Context, keywordID string, results []types.SerpResult) error
}

// Config controls batch sizing and upstream pacing
type Config struct {
	BatchSize    int
	KeywordDelay time.Duration
}

// Processor drains the rank-check job queue one batch at a time
type Processor struct {
	jobs     JobQueue
	classes  ClassStore
	keywords KeywordStore
	history  HistoryAppender
	cache    ResultCache
	fetcher  SerpFetcher
	ledger   *credit.Ledger
	cfg      Config
	logger   *logging.Logger

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor creates a new queue processor
func NewProcessor(
	jobs JobQueue,
	classes ClassStore,
	keywords KeywordStore,
	history HistoryAppender,
	cache ResultCache,
	fetcher SerpFetcher,
	ledger *credit.Ledger,
	cfg Config,
	logger *logging.Logger,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Processor{
		jobs:     jobs,
		classes:  classes,
		keywords: keywords,
		history:  history,
		cache:    cache,
		fetcher:  fetcher,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// RunResult reports what one invocation did
type RunResult struct {
	Idle      bool            `json:"idle"`
	JobID     string          `json:"jobId,omitempty"`
	ClassID   string          `json:"classId,omitempty"`
	Status    types.JobStatus `json:"status,omitempty"`
	Attempted int             `json:"attempted"`
	Succeeded int             `json:"succeeded"`
	Processed int             `json:"processed"`
	Total     int             `json:"total"`
}

// RunOnce picks the oldest active job and processes at most one batch of its
// keywords. Returns an idle result when the queue is empty. Unrecoverable
// batch-level failures (missing class, insufficient credits) move the job to
// failed and return normally; only infrastructure errors propagate.
func (p *Processor) RunOnce(ctx context.Context) (*RunResult, error) {
	job, err := p.jobs.OldestActive(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &RunResult{Idle: true}, nil
	}

	log := p.logger.WithFields(map[string]interface{}{
		"jobId":   job.ID,
		"classId": job.ClassID,
	})

	if job.Status == types.JobStatusPending {
		now := time.Now()
		if err := p.jobs.MarkProcessing(ctx, job.ID, now); err != nil {
			return nil, err
		}
		job.Status = types.JobStatusProcessing
		job.StartedAt = &now
	}

	class, err := p.classes.GetByID(ctx, job.ClassID)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeClassNotFound) {
			return p.failJob(ctx, job, fmt.Sprintf("Class %s no longer exists", job.ClassID), log)
		}
		return nil, err
	}

	slice, err := p.resolveBatch(ctx, job)
	if err != nil {
		return nil, err
	}
	if len(slice) == 0 {
		// Keywords were removed after admission; nothing left to do.
		return p.completeJob(ctx, job, class, log)
	}

	creditsNeeded := credit.CreditsNeeded(class.TopResults, len(slice))
	description := fmt.Sprintf("Ranking check for class %s (%d keywords)", class.ID, len(slice))
	if _, err := p.ledger.Debit(ctx, job.UserID, creditsNeeded, description); err != nil {
		if apperrors.Is(err, apperrors.CodeInsufficientCredits) {
			return p.failJob(ctx, job, apperrors.Categorize(err).Message, log)
		}
		return nil, err
	}

	succeeded := 0
	records := make([]*models.RankingHistoryRecord, 0, len(slice))
	for i, keyword := range slice {
		record, err := p.checkKeyword(ctx, class, keyword)
		if err != nil {
			log.WithError(err).WithField("keyword", keyword.Text).Warn("Keyword check failed, skipping")
		} else {
			succeeded++
			records = append(records, record)
		}

		if i < len(slice)-1 && p.cfg.KeywordDelay > 0 {
			if err := p.sleep(ctx, p.cfg.KeywordDelay); err != nil {
				return nil, err
			}
		}
	}

	// One insert for the whole batch keeps ClickHouse merge pressure low.
	if err := p.history.BatchAppend(ctx, records); err != nil {
		return nil, err
	}

	// Skipped keywords still count as attempted so the job cannot wedge on a
	// permanently failing keyword.
	processed := job.ProcessedKeywords + len(slice)
	if err := p.jobs.UpdateProgress(ctx, job.ID, processed); err != nil {
		return nil, err
	}
	job.ProcessedKeywords = processed

	if processed >= job.TotalKeywords {
		result, err := p.completeJob(ctx, job, class, log)
		if err != nil {
			return nil, err
		}
		result.Attempted = len(slice)
		result.Succeeded = succeeded
		return result, nil
	}

	log.WithFields(map[string]interface{}{
		"processed": processed,
		"total":     job.TotalKeywords,
	}).Info("Batch processed")

	return &RunResult{
		JobID:     job.ID,
		ClassID:   job.ClassID,
		Status:    types.JobStatusProcessing,
		Attempted: len(slice),
		Succeeded: succeeded,
		Processed: processed,
		Total:     job.TotalKeywords,
	}, nil
}

// checkKeyword fetches, matches and persists one keyword, returning its
// history snapshot for the batch insert. Fetch failures bubble up so the
// caller can log and skip; the keyword keeps its prior stored values.
func (p *Processor) checkKeyword(ctx context.Context, class *models.Class, keyword *models.Keyword) (*models.RankingHistoryRecord, error) {
	results, err := p.fetcher.Fetch(ctx, serp.FetchParams{
		Keyword:      keyword.Text,
		CountryID:    class.CountryID,
		LanguageCode: class.LanguageCode,
		Device:       class.Device,
		TopResults:   class.TopResults,
		LocationID:   class.LocationID,
	})
	if err != nil {
		return nil, err
	}

	checkedAt := time.Now()
	position, foundURL := matcher.FindPosition(results, class.Domain)
	applyRanking(keyword, position, foundURL, checkedAt)
	applyCompetitorRankings(keyword, class.Competitors, results)
	keyword.SerpResults = results

	if err := p.keywords.UpdateRanking(ctx, keyword); err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, keyword.ID, results); err != nil {
			// The cache is an acceleration layer; losing a write only costs a
			// slower read later.
			p.logger.WithError(err).WithField("keywordId", keyword.ID).Warn("Failed to cache results")
		}
	}

	return &models.RankingHistoryRecord{
		KeywordID:          keyword.ID,
		ClassID:            class.ID,
		RankingPosition:    keyword.RankingPosition,
		FoundURL:           keyword.FoundURL,
		CompetitorRankings: keyword.CompetitorRankings,
		CheckedAt:          checkedAt,
	}, nil
}

func (p *Processor) resolveBatch(ctx context.Context, job *models.RankCheckJob) ([]*models.Keyword, error) {
	var all []*models.Keyword
	var err error
	if len(job.KeywordIDs) > 0 {
		all, err = p.keywords.ListByIDs(ctx, job.ClassID, job.KeywordIDs)
	} else {
		all, err = p.keywords.ListByClass(ctx, job.ClassID)
	}
	if err != nil {
		return nil, err
	}

	// Keywords added after admission are not covered by this job; the slice
	// never runs past the admitted total, so processed_keywords cannot
	// overrun it.
	start := job.ProcessedKeywords
	if start >= len(all) || start >= job.TotalKeywords {
		return nil, nil
	}
	end := start + p.cfg.BatchSize
	if end > job.TotalKeywords {
		end = job.TotalKeywords
	}
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (p *Processor) completeJob(ctx context.Context, job *models.RankCheckJob, class *models.Class, log *logging.Logger) (*RunResult, error) {
	now := time.Now()
	if err := p.jobs.Complete(ctx, job.ID, now); err != nil {
		return nil, err
	}
	if err := p.classes.StampLastChecked(ctx, class.ID, now); err != nil {
		log.WithError(err).Warn("Failed to stamp class last-checked time")
	}

	log.WithField("totalKeywords", job.TotalKeywords).Info("Job completed")

	return &RunResult{
		JobID:     job.ID,
		ClassID:   job.ClassID,
		Status:    types.JobStatusCompleted,
		Processed: job.ProcessedKeywords,
		Total:     job.TotalKeywords,
	}, nil
}

func (p *Processor) failJob(ctx context.Context, job *models.RankCheckJob, message string, log *logging.Logger) (*RunResult, error) {
	if err := p.jobs.Fail(ctx, job.ID, message); err != nil {
		return nil, err
	}

	log.WithField("error", message).Warn("Job failed")

	return &RunResult{
		JobID:     job.ID,
		ClassID:   job.ClassID,
		Status:    types.JobStatusFailed,
		Processed: job.ProcessedKeywords,
		Total:     job.TotalKeywords,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
