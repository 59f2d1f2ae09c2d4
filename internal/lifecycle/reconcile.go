package lifecycle

import (
	"context"
	"errors"
	"log"

	"github.com/jbweber/homelab/perch/internal/cloud"
	"github.com/jbweber/homelab/perch/internal/domain"
)

// Reconcile refreshes local state from the provider. Transient provider
// failures are swallowed so reads keep working from stored state; a
// resource the provider no longer knows marks the instance FAILED. When
// nothing changed on the provider side, no writes happen.
func (s *Service) Reconcile(ctx context.Context, instance domain.Instance) (domain.Instance, error) {
	state, err := s.provider.DescribeInstance(ctx, instance.ProviderID)
	if err != nil {
		if errors.Is(err, cloud.ErrInstanceNotFound) {
			if instance.Status == domain.StatusFailed {
				return instance, nil
			}
			log.Printf("reconcile %s: resource %s gone, marking failed", instance.UserID, instance.ProviderID)
			instance.Status = domain.StatusFailed
			return s.instances.Save(ctx, instance)
		}
		log.Printf("reconcile %s: describe failed, keeping stored state: %v", instance.UserID, err)
		return instance, nil
	}

	mapped := domain.MapProviderState(state.State, instance.Status)
	if mapped == instance.Status && state.PublicIP == instance.PublicIP {
		return instance, nil
	}

	previous := instance.Status
	instance.Status = mapped
	instance.PublicIP = state.PublicIP

	now := s.now()
	switch {
	case mapped == domain.StatusRunning && previous != domain.StatusRunning:
		// First sighting of RUNNING: stamp the launch and make sure the
		// ledger is ticking, even for provider-initiated starts.
		if instance.LaunchedAt == nil {
			instance.LaunchedAt = &now
		}
		if _, err := s.intervals.Open(ctx, instance.ID, now); err != nil {
			return domain.Instance{}, err
		}
	case (mapped == domain.StatusStopped || mapped == domain.StatusTerminated) && previous != mapped:
		// Catches provider-initiated stops, auto-stop alarms included.
		instance.StoppedAt = &now
		if err := s.intervals.Close(ctx, instance.ID, now); err != nil {
			return domain.Instance{}, err
		}
	}

	return s.instances.Save(ctx, instance)
}
