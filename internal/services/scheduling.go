package services

import (
	"context"
	"fmt"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
	"github.com/RelayDigital/vrem-sub004/internal/repositories"
)

// conflictWindow returns the scan bounds for a requested slot. A booking at
// start with the given duration collides with anything scheduled strictly
// inside (start-duration, start+duration); back-to-back bookings that touch
// at either bound are allowed.
func conflictWindow(start time.Time, duration time.Duration) (time.Time, time.Time) {
	from := start.Add(-duration)
	to := start.Add(duration)
	return from.UTC(), to.UTC()
}

// findScheduleConflicts queries the assignee's calendar around the requested
// slot and reports the bookings that collide with it.
func findScheduleConflicts(ctx context.Context, repo repositories.ProjectRepository, orgID string, assigneeID string, start time.Time, durationMinutes int) ([]ScheduleConflict, error) {
	duration := time.Duration(durationMinutes) * time.Minute
	from, to := conflictWindow(start.UTC(), duration)

	projects, err := repo.ListScheduledInWindow(ctx, repositories.ScheduleWindowQuery{
		OrgID:      orgID,
		AssigneeID: assigneeID,
		From:       from,
		To:         to,
	})
	if err != nil {
		return nil, fmt.Errorf("query schedule window: %w", err)
	}

	newStart := start.UTC()
	var conflicts []ScheduleConflict
	for _, project := range projects {
		// A booking collides only when it is still running at the new
		// start. One ending exactly then is back-to-back, not a collision.
		existingEnd := project.ScheduledAt.Add(time.Duration(project.DurationMinutes) * time.Minute)
		if !existingEnd.After(newStart) {
			continue
		}
		conflicts = append(conflicts, domain.ScheduleConflict{
			ProjectID:       project.ID,
			ScheduledAt:     project.ScheduledAt,
			DurationMinutes: project.DurationMinutes,
		})
	}
	return conflicts, nil
}
