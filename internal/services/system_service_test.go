package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/RelayDigital/vrem-sub004/internal/domain"
)

type stubHealthRepo struct {
	collect func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collect == nil {
		return domain.SystemHealthReport{}, nil
	}
	return s.collect(ctx)
}

func TestSystemServiceFillsBuildMetadata(t *testing.T) {
	started := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{
			collect: func(context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{
					Checks: map[string]domain.SystemHealthCheck{
						"firestore": {Status: domain.HealthStatusOK},
						"pubsub":    {Status: domain.HealthStatusOK},
					},
				}, nil
			},
		},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "1.4.2", CommitSHA: "abc123", Environment: "production", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
	if report.Version != "1.4.2" || report.CommitSHA != "abc123" || report.Environment != "production" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != time.Hour {
		t.Fatalf("expected 1h uptime, got %v", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated-at from clock, got %v", report.GeneratedAt)
	}
}

func TestSystemServiceDerivesDegradedStatus(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{
			collect: func(context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{
					Checks: map[string]domain.SystemHealthCheck{
						"firestore":     {Status: domain.HealthStatusOK},
						"secretManager": {Status: domain.HealthStatusDegraded},
					},
				}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
}

func TestSystemServiceSurfacesCollectFailure(t *testing.T) {
	wantErr := errors.New("probe timeout")
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepo{
			collect: func(context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{}, wantErr
			},
		},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected collect error, got %v", err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected constructor error without a health repository")
	}
}
