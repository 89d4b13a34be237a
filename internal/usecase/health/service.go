package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure; the agent keeps running on
	// local data.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db     DBPinger
	oracle OracleStatus
}

// New creates a Service. oracle can be nil.
func New(db DBPinger, oracle OracleStatus) *Service {
	return &Service{db: db, oracle: oracle}
}

// Check runs health checks against all components. A degraded oracle
// degrades the report but never fails it: the agent is built to run
// without the oracle.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
	} else {
		checks["database"] = CheckOK
	}

	if s.oracle != nil {
		if s.oracle.Healthy() {
			checks["oracle"] = CheckOK
		} else {
			checks["oracle"] = CheckError
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
