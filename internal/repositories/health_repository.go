package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository constructs a HealthRepository that evaluates
// the provided check set, failing readiness on the first unhealthy dependency.
func NewDependencyHealthRepository(checks []DependencyCheck) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" || check.Check == nil {
			return nil, errors.New("health repository: dependency checks require a name and a probe")
		}
	}
	return &dependencyHealthRepository{
		checks:         checks,
		defaultTimeout: defaultDependencyTimeout,
	}, nil
}

// CheckReadiness probes every registered dependency within its timeout.
func (r *dependencyHealthRepository) CheckReadiness(ctx context.Context) error {
	for _, check := range r.checks {
		timeout := check.Timeout
		if timeout <= 0 {
			timeout = r.defaultTimeout
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := check.Check(probeCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("health repository: dependency %s unhealthy: %w", check.Name, err)
		}
	}
	return nil
}
