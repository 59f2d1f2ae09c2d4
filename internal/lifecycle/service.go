package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jbweber/homelab/perch/internal/cloud"
	"github.com/jbweber/homelab/perch/internal/domain"
	"github.com/jbweber/homelab/perch/internal/pricing"
	"github.com/jbweber/homelab/perch/internal/repository"
)

// Service implements the instance lifecycle: provisioning, start/stop,
// reconciliation against the provider, allowed-source management, and
// reclaim. One instance per user throughout.
type Service struct {
	instances repository.InstanceRepository
	intervals repository.UsageIntervalRepository
	configs   repository.InstanceConfigRepository
	sources   repository.AllowedSourceRepository
	keys      repository.InstanceKeyRepository
	provider  cloud.Provider
	project   string
	stopWait  cloud.WaitPolicy
	now       func() time.Time
}

// NewService builds a lifecycle service over the given database and
// provider. project namespaces all provider-side resource names.
func NewService(db *sql.DB, provider cloud.Provider, project string) *Service {
	return &Service{
		instances: repository.NewInstanceRepository(db),
		intervals: repository.NewUsageIntervalRepository(db),
		configs:   repository.NewInstanceConfigRepository(db),
		sources:   repository.NewAllowedSourceRepository(db),
		keys:      repository.NewInstanceKeyRepository(db),
		provider:  provider,
		project:   project,
		stopWait:  cloud.StopWait,
		now:       time.Now,
	}
}

func (s *Service) groupName(userID string) string {
	return fmt.Sprintf("%s-sg-%s", s.project, userID)
}

func (s *Service) keyPairName(userID string) string {
	return fmt.Sprintf("%s-key-%s", s.project, userID)
}

func (s *Service) alarmName(providerID string) string {
	return fmt.Sprintf("%s-autostop-%s", s.project, providerID)
}

func (s *Service) findInstance(ctx context.Context, userID string) (domain.Instance, error) {
	instance, err := s.instances.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Instance{}, fmt.Errorf("user %s: %w", userID, ErrInstanceNotFound)
		}
		return domain.Instance{}, err
	}
	return instance, nil
}

// GetInstance returns the user's instance, reconciled against the provider
// best-effort, together with their entitlement.
func (s *Service) GetInstance(ctx context.Context, userID string) (domain.Instance, domain.InstanceConfig, error) {
	config, err := s.configs.Get(ctx, userID)
	if err != nil {
		return domain.Instance{}, domain.InstanceConfig{}, err
	}

	instance, err := s.findInstance(ctx, userID)
	if err != nil {
		return domain.Instance{}, config, err
	}

	instance, err = s.Reconcile(ctx, instance)
	if err != nil {
		return domain.Instance{}, config, err
	}
	return instance, config, nil
}

// GetKey returns the private key material for the user's instance.
func (s *Service) GetKey(ctx context.Context, userID string) (domain.InstanceKey, error) {
	instance, err := s.findInstance(ctx, userID)
	if err != nil {
		return domain.InstanceKey{}, err
	}

	key, err := s.keys.FindByID(ctx, instance.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.InstanceKey{}, fmt.Errorf("user %s: %w", userID, ErrInstanceNotFound)
		}
		return domain.InstanceKey{}, err
	}
	return key, nil
}

// Start powers on the user's instance. Allowed from STOPPED, or from
// STOPPING after waiting out the in-flight stop.
func (s *Service) Start(ctx context.Context, userID string) (domain.Instance, error) {
	instance, err := s.findInstance(ctx, userID)
	if err != nil {
		return domain.Instance{}, err
	}

	switch instance.Status {
	case domain.StatusStopped:
	case domain.StatusStopping:
		// A stop is still in flight; the provider rejects a start until
		// it lands, so poll until the resource leaves the stopping state.
		// The wait is bounded, not a precondition: exhaustion or a
		// describe failure is logged and the start command goes out anyway.
		err := s.stopWait.Wait(ctx, func(ctx context.Context) (bool, error) {
			state, err := s.provider.DescribeInstance(ctx, instance.ProviderID)
			if err != nil {
				return false, err
			}
			return state.State != "stopping", nil
		})
		if err != nil {
			log.Printf("start %s: stop still in flight after wait: %v", userID, err)
		}
	default:
		return domain.Instance{}, fmt.Errorf("cannot start instance in status %s: %w", instance.Status, ErrInvalidState)
	}

	if err := s.provider.StartInstance(ctx, instance.ProviderID); err != nil {
		return domain.Instance{}, err
	}

	instance.Status = domain.StatusStarting
	instance, err = s.instances.Save(ctx, instance)
	if err != nil {
		return domain.Instance{}, err
	}

	if _, err := s.intervals.Open(ctx, instance.ID, s.now()); err != nil {
		return domain.Instance{}, err
	}
	return instance, nil
}

// Stop powers off the user's instance. Allowed from RUNNING, PENDING, and
// STARTING.
func (s *Service) Stop(ctx context.Context, userID string) (domain.Instance, error) {
	instance, err := s.findInstance(ctx, userID)
	if err != nil {
		return domain.Instance{}, err
	}

	switch instance.Status {
	case domain.StatusRunning, domain.StatusPending, domain.StatusStarting:
	default:
		return domain.Instance{}, fmt.Errorf("cannot stop instance in status %s: %w", instance.Status, ErrInvalidState)
	}

	if err := s.provider.StopInstance(ctx, instance.ProviderID); err != nil {
		return domain.Instance{}, err
	}

	instance.Status = domain.StatusStopping
	instance, err = s.instances.Save(ctx, instance)
	if err != nil {
		return domain.Instance{}, err
	}

	if err := s.intervals.Close(ctx, instance.ID, s.now()); err != nil {
		return domain.Instance{}, err
	}
	return instance, nil
}

// AdminStart starts another user's instance on their behalf.
func (s *Service) AdminStart(ctx context.Context, targetUserID string) (domain.Instance, error) {
	log.Printf("admin start requested for user %s", targetUserID)
	return s.Start(ctx, targetUserID)
}

// AdminStop stops another user's instance on their behalf.
func (s *Service) AdminStop(ctx context.Context, targetUserID string) (domain.Instance, error) {
	log.Printf("admin stop requested for user %s", targetUserID)
	return s.Stop(ctx, targetUserID)
}

// SetConfig stores a user's entitlement. The instance type is immutable
// while the user holds an instance, since the compute resource is already
// sized.
func (s *Service) SetConfig(ctx context.Context, config domain.InstanceConfig) (domain.InstanceConfig, error) {
	if !pricing.IsKnownType(config.Type) {
		return domain.InstanceConfig{}, fmt.Errorf("type %s (known types: %s): %w",
			config.Type, strings.Join(pricing.KnownTypes(), ", "), ErrUnknownType)
	}

	existing, err := s.findInstance(ctx, config.UserID)
	if err == nil {
		if existing.Type != config.Type {
			return domain.InstanceConfig{}, fmt.Errorf("user %s holds a %s instance: %w", config.UserID, existing.Type, ErrTypeImmutable)
		}
	} else if !errors.Is(err, ErrInstanceNotFound) {
		return domain.InstanceConfig{}, err
	}

	return s.configs.Save(ctx, config)
}
