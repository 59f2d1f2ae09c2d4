package lifecycle

import (
	"context"

	"github.com/jbweber/homelab/perch/internal/pricing"
)

// GetCost returns the user's cost estimate for the current billing month,
// including the per-day breakdown.
func (s *Service) GetCost(ctx context.Context, userID string) (pricing.CostReport, error) {
	instance, err := s.findInstance(ctx, userID)
	if err != nil {
		return pricing.CostReport{}, err
	}

	intervals, err := s.intervals.FindByInstanceID(ctx, instance.ID)
	if err != nil {
		return pricing.CostReport{}, err
	}

	now := s.now()
	windowStart, windowEnd := pricing.MonthRange(now)
	return pricing.InstanceCost(instance, intervals, windowStart, windowEnd, now), nil
}

// GetAggregateCosts returns the fleet-wide cost view for the current
// billing month, most expensive first.
func (s *Service) GetAggregateCosts(ctx context.Context) (pricing.AggregateReport, error) {
	instances, err := s.instances.FindAll(ctx)
	if err != nil {
		return pricing.AggregateReport{}, err
	}

	now := s.now()
	windowStart, windowEnd := pricing.MonthRange(now)

	reports := make([]pricing.CostReport, 0, len(instances))
	for _, instance := range instances {
		intervals, err := s.intervals.FindByInstanceID(ctx, instance.ID)
		if err != nil {
			return pricing.AggregateReport{}, err
		}
		reports = append(reports, pricing.InstanceCost(instance, intervals, windowStart, windowEnd, now))
	}
	return pricing.AggregateCosts(reports), nil
}
