// Package callstats provides caller call-velocity calculation.
package callstats

import (
	"context"
	"fmt"
	"time"

	"github.com/callguard-ai/callguard/internal/domain"
)

// Service tracks how often a caller number shows up inside the
// configured time window. The count feeds the behavioral evaluator as
// the call_velocity signal.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new call statistics service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// CallCount returns the number of calls from callerNumber for the
// tenant within the window. The cache counter is preferred when
// available since it is a single atomic operation; the repository
// count is the fallback. An unknown caller number yields zero.
func (s *Service) CallCount(ctx context.Context, tenantID, callerNumber string, windowSecs int) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}
	if callerNumber == "" {
		return 0, nil
	}

	window := time.Duration(windowSecs) * time.Second

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, tenantID, "velocity:"+callerNumber, window)
		if err == nil {
			return count, nil
		}
		// Fall through to the repository on cache failure.
	}

	if s.repo != nil {
		since := time.Now().Add(-window)
		count, err := s.repo.CountCallsByCaller(ctx, tenantID, callerNumber, since)
		if err != nil {
			return 0, fmt.Errorf("failed to count calls: %w", err)
		}
		return count, nil
	}

	return 0, fmt.Errorf("no data source available")
}
