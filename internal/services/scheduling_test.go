package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

func TestConflictWindowBounds(t *testing.T) {
	start := time.Date(2025, time.June, 10, 10, 0, 0, 0, time.UTC)
	from, to := conflictWindow(start, 60*time.Minute)

	if want := start.Add(-time.Hour); !from.Equal(want) {
		t.Fatalf("expected from %s, got %s", want, from)
	}
	if want := start.Add(time.Hour); !to.Equal(want) {
		t.Fatalf("expected to %s, got %s", want, to)
	}
}

func TestFindScheduleConflictsFiltersLowerBound(t *testing.T) {
	start := time.Date(2025, time.June, 10, 10, 0, 0, 0, time.UTC)
	repo := &stubProjectRepo{
		listInWindow: func(_ context.Context, q repositories.ScheduleWindowQuery) ([]domain.Project, error) {
			return []domain.Project{
				{ID: "prj_touching", ScheduledAt: q.From, DurationMinutes: 60},
				{ID: "prj_overlap", ScheduledAt: start.Add(30 * time.Minute), DurationMinutes: 60},
			}, nil
		},
	}

	conflicts, err := findScheduleConflicts(context.Background(), repo, "org_main", "user-1", start, 60)
	if err != nil {
		t.Fatalf("findScheduleConflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].ProjectID != "prj_overlap" {
		t.Fatalf("expected prj_overlap, got %q", conflicts[0].ProjectID)
	}
}

func TestFindScheduleConflictsLongBookingStillRunning(t *testing.T) {
	start := time.Date(2025, time.June, 10, 10, 0, 0, 0, time.UTC)
	repo := &stubProjectRepo{
		listInWindow: func(_ context.Context, q repositories.ScheduleWindowQuery) ([]domain.Project, error) {
			// 09:00 shoot running 90 minutes is still in progress at 10:00.
			return []domain.Project{
				{ID: "prj_long", ScheduledAt: q.From, DurationMinutes: 90},
			}, nil
		},
	}

	conflicts, err := findScheduleConflicts(context.Background(), repo, "org_main", "user-1", start, 60)
	if err != nil {
		t.Fatalf("findScheduleConflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ProjectID != "prj_long" {
		t.Fatalf("expected prj_long conflict, got %+v", conflicts)
	}
}

func TestFindScheduleConflictsEmptyCalendar(t *testing.T) {
	repo := &stubProjectRepo{}
	start := time.Date(2025, time.June, 10, 10, 0, 0, 0, time.UTC)

	conflicts, err := findScheduleConflicts(context.Background(), repo, "org_main", "user-1", start, 45)
	if err != nil {
		t.Fatalf("findScheduleConflicts: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
}
