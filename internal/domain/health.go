package domain

import "time"

// HealthStatus summarises the state of a dependency or the whole system.
type HealthStatus string

const (
	// HealthStatusOK means the dependency responded within budget.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded means the dependency errored but may recover.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError means the dependency timed out or hard-failed.
	HealthStatusError HealthStatus = "error"
)

// SystemHealthCheck records one dependency probe outcome.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for readiness reporting.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
