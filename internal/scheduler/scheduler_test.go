package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rank-tracker/internal/apperrors"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/service"
	"github.com/rank-tracker/internal/types"
)

type fakeClassSource struct {
	classes []*models.Class
	stamped map[string]time.Time
}

func (f *fakeClassSource) ListScheduled(ctx context.Context) ([]*models.Class, error) {
	return f.classes, nil
}

func (f *fakeClassSource) StampLastChecked(ctx context.Context, classID string, checkedAt time.Time) error {
	if f.stamped == nil {
		f.stamped = make(map[string]time.Time)
	}
	f.stamped[classID] = checkedAt
	return nil
}

type fakeEnqueuer struct {
	inputs []*service.EnqueueInput
	errs   map[string]error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, input *service.EnqueueInput) (*models.RankCheckJob, error) {
	f.inputs = append(f.inputs, input)
	if err, ok := f.errs[input.ClassID]; ok {
		return nil, err
	}
	return &models.RankCheckJob{ID: "job-" + input.ClassID, ClassID: input.ClassID, Status: types.JobStatusPending}, nil
}

func recurrence(r types.Recurrence) *types.Recurrence { return &r }

func hoursAgo(now time.Time, h int) *time.Time {
	t := now.Add(-time.Duration(h) * time.Hour)
	return &t
}

// reference instant: Wednesday 2026-08-26 09:15 UTC
var wednesday = time.Date(2026, 8, 26, 9, 15, 0, 0, time.UTC)

func newTestScheduler(classes *fakeClassSource, checks *fakeEnqueuer, now time.Time) *Scheduler {
	s := NewScheduler(classes, checks, nil)
	s.now = func() time.Time { return now }
	return s
}

func TestEligibility(t *testing.T) {
	tests := []struct {
		name  string
		class models.Class
		now   time.Time
		want  bool
	}{
		{
			name:  "manual class never eligible",
			class: models.Class{CheckHour: 9},
			now:   wednesday,
			want:  false,
		},
		{
			name:  "daily never checked",
			class: models.Class{Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9},
			now:   wednesday,
			want:  true,
		},
		{
			name:  "daily wrong hour",
			class: models.Class{Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 10},
			now:   wednesday,
			want:  false,
		},
		{
			name:  "daily checked 24h ago",
			class: models.Class{Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9, LastCheckedAt: hoursAgo(wednesday, 24)},
			now:   wednesday,
			want:  true,
		},
		{
			name:  "daily checked 23h ago still eligible",
			class: models.Class{Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9, LastCheckedAt: hoursAgo(wednesday, 23)},
			now:   wednesday,
			want:  true,
		},
		{
			name:  "daily checked 2h ago",
			class: models.Class{Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9, LastCheckedAt: hoursAgo(wednesday, 2)},
			now:   wednesday,
			want:  false,
		},
		{
			name:  "weekly on anchor weekday",
			class: models.Class{Recurrence: recurrence(types.RecurrenceWeekly), CheckHour: 9, CheckWeekday: 3, LastCheckedAt: hoursAgo(wednesday, 168)},
			now:   wednesday,
			want:  true,
		},
		{
			name:  "weekly wrong weekday",
			class: models.Class{Recurrence: recurrence(types.RecurrenceWeekly), CheckHour: 9, CheckWeekday: 4, LastCheckedAt: hoursAgo(wednesday, 168)},
			now:   wednesday,
			want:  false,
		},
		{
			name:  "weekly checked too recently",
			class: models.Class{Recurrence: recurrence(types.RecurrenceWeekly), CheckHour: 9, CheckWeekday: 3, LastCheckedAt: hoursAgo(wednesday, 100)},
			now:   wednesday,
			want:  false,
		},
		{
			name:  "monthly on anchor day",
			class: models.Class{Recurrence: recurrence(types.RecurrenceMonthly), CheckHour: 9, CheckMonthDay: 26, LastCheckedAt: hoursAgo(wednesday, 24*31)},
			now:   wednesday,
			want:  true,
		},
		{
			name:  "monthly wrong day of month",
			class: models.Class{Recurrence: recurrence(types.RecurrenceMonthly), CheckHour: 9, CheckMonthDay: 27, LastCheckedAt: hoursAgo(wednesday, 24*31)},
			now:   wednesday,
			want:  false,
		},
		{
			name:  "monthly checked too recently",
			class: models.Class{Recurrence: recurrence(types.RecurrenceMonthly), CheckHour: 9, CheckMonthDay: 26, LastCheckedAt: hoursAgo(wednesday, 24*10)},
			now:   wednesday,
			want:  false,
		},
	}

	s := NewScheduler(&fakeClassSource{}, &fakeEnqueuer{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := tt.class
			if got := s.eligible(&class, tt.now); got != tt.want {
				t.Errorf("eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunEnqueuesEligibleClasses(t *testing.T) {
	classes := &fakeClassSource{classes: []*models.Class{
		{ID: "class-due", UserID: "user-1", Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9, LastCheckedAt: hoursAgo(wednesday, 25)},
		{ID: "class-recent", UserID: "user-1", Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9, LastCheckedAt: hoursAgo(wednesday, 2)},
		{ID: "class-other-hour", UserID: "user-2", Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 15},
	}}
	checks := &fakeEnqueuer{}
	s := newTestScheduler(classes, checks, wednesday)

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CheckedCount != 3 {
		t.Errorf("expected 3 checked, got %d", result.CheckedCount)
	}
	if result.EnqueuedCount != 1 || result.SkippedCount != 0 {
		t.Errorf("expected 1 enqueued, 0 skipped, got %d/%d", result.EnqueuedCount, result.SkippedCount)
	}
	if len(checks.inputs) != 1 || checks.inputs[0].ClassID != "class-due" {
		t.Fatalf("expected one enqueue for class-due, got %+v", checks.inputs)
	}
	if checks.inputs[0].UserID != "user-1" {
		t.Errorf("enqueue should run as the class owner, got %q", checks.inputs[0].UserID)
	}
	if stamped, ok := classes.stamped["class-due"]; !ok || !stamped.Equal(wednesday) {
		t.Errorf("expected provisional stamp at trigger time, got %v", stamped)
	}
}

func TestRunTreatsConflictAndNoWorkAsSkips(t *testing.T) {
	classes := &fakeClassSource{classes: []*models.Class{
		{ID: "class-busy", UserID: "user-1", Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9},
		{ID: "class-empty", UserID: "user-1", Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9},
	}}
	checks := &fakeEnqueuer{errs: map[string]error{
		"class-busy":  apperrors.NewConflictError("job-1", types.JobStatusProcessing),
		"class-empty": apperrors.NewNoWorkError("class-empty"),
	}}
	s := newTestScheduler(classes, checks, wednesday)

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("benign skips must not fail the run: %v", err)
	}
	if result.EnqueuedCount != 0 || result.SkippedCount != 2 {
		t.Errorf("expected 0 enqueued, 2 skipped, got %d/%d", result.EnqueuedCount, result.SkippedCount)
	}
	if len(classes.stamped) != 0 {
		t.Errorf("skipped classes must not be stamped, got %v", classes.stamped)
	}
}

func TestRunContinuesPastEnqueueErrors(t *testing.T) {
	classes := &fakeClassSource{classes: []*models.Class{
		{ID: "class-broken", UserID: "user-1", Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9},
		{ID: "class-fine", UserID: "user-1", Recurrence: recurrence(types.RecurrenceDaily), CheckHour: 9},
	}}
	checks := &fakeEnqueuer{errs: map[string]error{
		"class-broken": apperrors.NewDatabaseError("insert", context.DeadlineExceeded),
	}}
	s := newTestScheduler(classes, checks, wednesday)

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("per-class errors must not abort the run: %v", err)
	}
	if result.EnqueuedCount != 1 || result.SkippedCount != 1 {
		t.Errorf("expected 1 enqueued, 1 skipped, got %d/%d", result.EnqueuedCount, result.SkippedCount)
	}
	if _, ok := classes.stamped["class-fine"]; !ok {
		t.Error("healthy class should still be stamped")
	}
}
