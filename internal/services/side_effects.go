package services

import (
	"context"
	"strings"
)

// enrichAddress geocodes the address when a resolver is configured. Geocoding
// failures are logged and the raw address is kept unchanged.
func enrichAddress(ctx context.Context, geocoder Geocoder, logger Logger, addr Address) Address {
	if geocoder == nil {
		return addr
	}

	parts := make([]string, 0, 5)
	for _, part := range []string{addr.Line1, addr.City, addr.Region, addr.PostalCode, addr.Country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	query := strings.Join(parts, ", ")
	if query == "" {
		return addr
	}

	result, err := geocoder.Geocode(ctx, query)
	if err != nil {
		if logger != nil {
			logger(ctx, "orders.geocode.failed", map[string]any{
				"query": query,
				"error": err.Error(),
			})
		}
		return addr
	}

	addr.Formatted = result.Formatted
	addr.PlaceID = result.PlaceID
	lat, lng := result.Lat, result.Lng
	addr.Lat = &lat
	addr.Lng = &lng
	return addr
}

// publishCalendarEvent hands the booked project to the calendar sync worker.
// Failures are logged and never surfaced: the booking already happened.
func publishCalendarEvent(ctx context.Context, publisher CalendarPublisher, logger Logger, project Project) {
	if publisher == nil {
		return
	}

	message := CalendarEventMessage{
		Action:          "create",
		ProjectID:       project.ID,
		OrgID:           project.OrgID,
		Title:           project.Title,
		Location:        project.Address.Formatted,
		ScheduledAt:     project.ScheduledAt,
		DurationMinutes: project.DurationMinutes,
	}
	if project.AssigneeID != nil {
		message.AssigneeID = *project.AssigneeID
	}
	if message.Location == "" {
		message.Location = project.Address.Line1
	}

	if _, err := publisher.PublishCalendarEvent(ctx, message); err != nil && logger != nil {
		logger(ctx, "orders.calendar.publish_failed", map[string]any{
			"projectId": project.ID,
			"error":     err.Error(),
		})
	}
}
