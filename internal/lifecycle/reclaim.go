package lifecycle

import (
	"context"
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"
	"github.com/jbweber/homelab/perch/internal/domain"
)

// Reclaim tears down a user's provider footprint and removes the local
// record. Each provider-side cleanup is independent best-effort; failures
// are collected and logged as manual follow-up but never block the local
// delete. The compute resource itself is never terminated here, so an
// operator can still recover data from its volume.
func (s *Service) Reclaim(ctx context.Context, targetUserID string) error {
	instance, err := s.findInstance(ctx, targetUserID)
	if err != nil {
		return err
	}

	var cleanup *multierror.Error

	if instance.Status != domain.StatusStopped && instance.Status != domain.StatusTerminated {
		if err := s.provider.StopInstance(ctx, instance.ProviderID); err != nil {
			cleanup = multierror.Append(cleanup, fmt.Errorf("stop %s: %w", instance.ProviderID, err))
		} else {
			if err := s.intervals.Close(ctx, instance.ID, s.now()); err != nil {
				return err
			}
		}
	}

	if instance.AlarmName != "" {
		if err := s.provider.DeleteAlarm(ctx, instance.AlarmName); err != nil {
			cleanup = multierror.Append(cleanup, fmt.Errorf("delete alarm %s: %w", instance.AlarmName, err))
		}
	}

	if instance.KeyPairName != "" {
		if err := s.provider.DeleteKeyPair(ctx, instance.KeyPairName); err != nil {
			cleanup = multierror.Append(cleanup, fmt.Errorf("delete keypair %s: %w", instance.KeyPairName, err))
		}
	}

	if instance.AccessGroupID != "" {
		// Fails while the stopped instance is still attached; expected,
		// the orphan sweep picks the group up later.
		if err := s.provider.DeleteAccessGroup(ctx, instance.AccessGroupID); err != nil {
			cleanup = multierror.Append(cleanup, fmt.Errorf("delete access group %s: %w", instance.AccessGroupID, err))
		}
	}

	if err := s.sources.DeleteByUserID(ctx, targetUserID); err != nil {
		return err
	}

	// Cascades the ledger and key material.
	if err := s.instances.DeleteByID(ctx, instance.ID); err != nil {
		return err
	}

	if err := cleanup.ErrorOrNil(); err != nil {
		log.Printf("reclaim %s: provider cleanup needs manual follow-up: %v", targetUserID, err)
	} else {
		log.Printf("reclaimed instance %s for user %s", instance.ProviderID, targetUserID)
	}
	return nil
}
