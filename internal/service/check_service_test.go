package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// fakeClassStore serves a fixed set of classes
type fakeClassStore struct {
	classes map[string]*models.Class
}

func (f *fakeClassStore) GetByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := f.classes[id]
	if !ok {
		return nil, apperrors.NewClassNotFoundError(id)
	}
	return class, nil
}

// fakeKeywordStore serves fixed keyword sets per class
type fakeKeywordStore struct {
	byClass map[string][]*models.Keyword
}

func (f *fakeKeywordStore) CountByClass(ctx context.Context, classID string) (int, error) {
	return len(f.byClass[classID]), nil
}

func (f *fakeKeywordStore) ListByIDs(ctx context.Context, classID string, ids []string) ([]*models.Keyword, error) {
	var found []*models.Keyword
	for _, kw := range f.byClass[classID] {
		for _, id := range ids {
			if kw.ID == id {
				found = append(found, kw)
			}
		}
	}
	return found, nil
}

// fakeJobStore enforces the same one-active-job-per-class admission the
// Postgres conditional insert provides.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.RankCheckJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.RankCheckJob)}
}

func (f *fakeJobStore) CreateAdmitted(ctx context.Context, job *models.RankCheckJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.jobs {
		if existing.ClassID == job.ClassID && existing.Status.IsActive() {
			return apperrors.NewConflictError(existing.ID, existing.Status)
		}
	}
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobStore) GetByID(ctx context.Context, id string) (*models.RankCheckJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job", id)
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobStore) FindActiveByClass(ctx context.Context, classID string) (*models.RankCheckJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ClassID == classID && job.Status.IsActive() {
			copied := *job
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeJobStore) activeCount(classID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, job := range f.jobs {
		if job.ClassID == classID && job.Status.IsActive() {
			count++
		}
	}
	return count
}

func testService(keywords int) (*CheckService, *fakeJobStore) {
	classes := &fakeClassStore{classes: map[string]*models.Class{
		"class-1": {ID: "class-1", UserID: "user-1", Domain: "example.com", TopResults: 10},
	}}

	kws := &fakeKeywordStore{byClass: map[string][]*models.Keyword{}}
	for i := 0; i < keywords; i++ {
		kws.byClass["class-1"] = append(kws.byClass["class-1"], &models.Keyword{
			ID:        string(rune('a' + i)),
			ClassID:   "class-1",
			Text:      "kw",
			CreatedAt: time.Now(),
		})
	}

	jobs := newFakeJobStore()
	return NewCheckService(classes, kws, jobs, nil), jobs
}

func TestEnqueueAdmitsJob(t *testing.T) {
	svc, _ := testService(5)

	job, err := svc.Enqueue(context.Background(), &EnqueueInput{
		ClassID: "class-1",
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.TotalKeywords != 5 {
		t.Errorf("expected 5 total keywords, got %d", job.TotalKeywords)
	}
	if job.Status != types.JobStatusPending {
		t.Errorf("expected pending status, got %s", job.Status)
	}
	if job.ProcessedKeywords != 0 {
		t.Errorf("expected zero processed keywords, got %d", job.ProcessedKeywords)
	}
}

func TestEnqueueConflictCarriesExistingJob(t *testing.T) {
	svc, _ := testService(5)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, &EnqueueInput{ClassID: "class-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.Enqueue(ctx, &EnqueueInput{ClassID: "class-1", UserID: "user-1"})
	if !apperrors.Is(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}

	catErr := apperrors.Categorize(err)
	if catErr.Details["existingJobId"] != first.ID {
		t.Errorf("conflict should carry the existing job id, got %v", catErr.Details)
	}
}

func TestEnqueueNoWork(t *testing.T) {
	svc, _ := testService(0)

	_, err := svc.Enqueue(context.Background(), &EnqueueInput{ClassID: "class-1", UserID: "user-1"})
	if !apperrors.Is(err, apperrors.CodeNoWork) {
		t.Fatalf("expected NO_WORK, got %v", err)
	}
}

func TestEnqueueClassNotFound(t *testing.T) {
	svc, _ := testService(5)

	_, err := svc.Enqueue(context.Background(), &EnqueueInput{ClassID: "missing", UserID: "user-1"})
	if !apperrors.Is(err, apperrors.CodeClassNotFound) {
		t.Fatalf("expected CLASS_NOT_FOUND, got %v", err)
	}
}

func TestEnqueueKeywordSubset(t *testing.T) {
	svc, _ := testService(5)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, &EnqueueInput{
		ClassID:    "class-1",
		UserID:     "user-1",
		KeywordIDs: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.TotalKeywords != 2 {
		t.Errorf("expected 2 total keywords, got %d", job.TotalKeywords)
	}
}

func TestEnqueueRejectsForeignKeywordIDs(t *testing.T) {
	svc, _ := testService(5)

	_, err := svc.Enqueue(context.Background(), &EnqueueInput{
		ClassID:    "class-1",
		UserID:     "user-1",
		KeywordIDs: []string{"a", "not-in-class"},
	})
	if !apperrors.Is(err, apperrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

// TestConcurrentEnqueueAdmitsExactlyOne checks the admission invariant: N
// concurrent enqueue attempts on one idle class admit exactly one job, the
// rest fail with CONFLICT.
func TestConcurrentEnqueueAdmitsExactlyOne(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one admission per class", prop.ForAll(
		func(n int) bool {
			svc, jobs := testService(5)
			ctx := context.Background()

			var wg sync.WaitGroup
			admitted := make(chan struct{}, n)
			conflicts := make(chan struct{}, n)

			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.Enqueue(ctx, &EnqueueInput{ClassID: "class-1", UserID: "user-1"})
					switch {
					case err == nil:
						admitted <- struct{}{}
					case apperrors.Is(err, apperrors.CodeConflict):
						conflicts <- struct{}{}
					}
				}()
			}
			wg.Wait()

			return len(admitted) == 1 &&
				len(conflicts) == n-1 &&
				jobs.activeCount("class-1") == 1
		},
		gen.IntRange(2, 16),
	))

	properties.TestingRun(t)
}
