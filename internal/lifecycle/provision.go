package lifecycle

import (
	"context"
	"fmt"
	"log"

	"github.com/jbweber/homelab/perch/internal/cloud"
	"github.com/jbweber/homelab/perch/internal/domain"
	"github.com/jbweber/homelab/perch/internal/pricing"
)

// Provision creates the full provider-side footprint for a user and
// records the instance locally. Infrastructure failures before the local
// record exists abort with ErrProvisionFailed and leave nothing behind;
// only the auto-stop alarm is allowed to fail without failing the whole
// operation.
func (s *Service) Provision(ctx context.Context, targetUserID string) (domain.Instance, error) {
	config, err := s.configs.Get(ctx, targetUserID)
	if err != nil {
		return domain.Instance{}, err
	}
	if config.Quota < 1 {
		return domain.Instance{}, fmt.Errorf("user %s: %w", targetUserID, ErrNoQuota)
	}

	exists, err := s.instances.ExistsByUserID(ctx, targetUserID)
	if err != nil {
		return domain.Instance{}, err
	}
	if exists {
		return domain.Instance{}, fmt.Errorf("user %s: %w", targetUserID, ErrInstanceExists)
	}

	preset := pricing.GetPreset(config.Type)

	groupID, err := s.provider.EnsureAccessGroup(ctx, s.groupName(targetUserID),
		fmt.Sprintf("Managed access group for %s", targetUserID))
	if err != nil {
		log.Printf("provision %s: access group: %v", targetUserID, err)
		return domain.Instance{}, ErrProvisionFailed
	}

	// Apply already-registered allowed sources so access works the moment
	// the instance comes up.
	registered, err := s.sources.FindByUserID(ctx, targetUserID)
	if err != nil {
		return domain.Instance{}, err
	}
	for _, source := range registered {
		if err := s.provider.AuthorizeSource(ctx, groupID, source.Address+"/32"); err != nil {
			log.Printf("provision %s: authorize %s: %v", targetUserID, source.Address, err)
			return domain.Instance{}, ErrProvisionFailed
		}
	}

	keyName := s.keyPairName(targetUserID)
	key, err := s.provider.RecreateKeyPair(ctx, keyName)
	if err != nil {
		log.Printf("provision %s: keypair: %v", targetUserID, err)
		return domain.Instance{}, ErrProvisionFailed
	}

	launch, err := s.provider.Launch(ctx, cloud.LaunchSpec{
		UserID:        targetUserID,
		InstanceType:  preset.Type,
		VolumeSizeGB:  preset.VolumeSizeGB,
		KeyPairName:   keyName,
		AccessGroupID: groupID,
	})
	if err != nil {
		log.Printf("provision %s: launch: %v", targetUserID, err)
		return domain.Instance{}, ErrProvisionFailed
	}

	instance := domain.Instance{
		UserID:        targetUserID,
		ProviderID:    launch.ProviderID,
		Type:          preset.Type,
		Status:        domain.StatusPending,
		PrivateIP:     launch.PrivateIP,
		KeyPairName:   keyName,
		AccessGroupID: groupID,
		AlarmName:     s.alarmName(launch.ProviderID),
		CreatedAt:     s.now(),
	}
	instance, err = s.instances.Save(ctx, instance)
	if err != nil {
		return domain.Instance{}, err
	}

	_, err = s.keys.Save(ctx, domain.InstanceKey{
		InstanceID:  instance.ID,
		KeyPairName: key.Name,
		PrivateKey:  key.PrivateKey,
		Fingerprint: key.Fingerprint,
	})
	if err != nil {
		return domain.Instance{}, err
	}

	// The alarm is a cost guard, not a prerequisite. Failure leaves the
	// instance usable and is flagged for manual follow-up.
	if err := s.provider.PutStopAlarm(ctx, instance.AlarmName, launch.ProviderID); err != nil {
		log.Printf("provision %s: stop alarm %s failed, instance left without auto-stop: %v",
			targetUserID, instance.AlarmName, err)
		instance.AlarmName = ""
		instance, err = s.instances.Save(ctx, instance)
		if err != nil {
			return domain.Instance{}, err
		}
	}

	log.Printf("provisioned instance %s (%s) for user %s", launch.ProviderID, preset.Type, targetUserID)
	return instance, nil
}
