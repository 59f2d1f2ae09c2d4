package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/jbweber/homelab/perch/internal/domain"
	"github.com/jbweber/homelab/perch/internal/repository"
)

// maxSourcesPerUser caps the management-port allow list.
const maxSourcesPerUser = 4

// openCIDR is the provider's default wide-open rule, revoked once the
// first real source is registered.
const openCIDR = "0.0.0.0/0"

func validIPv4(address string) bool {
	ip := net.ParseIP(address)
	return ip != nil && ip.To4() != nil
}

// ListSources returns the user's allowed sources, oldest first.
func (s *Service) ListSources(ctx context.Context, userID string) ([]domain.AllowedSource, error) {
	return s.sources.FindByUserID(ctx, userID)
}

// AddSource registers an IPv4 address for management access. The first
// registration replaces the group's wide-open rule with the specific /32.
func (s *Service) AddSource(ctx context.Context, userID, address string) (domain.AllowedSource, error) {
	if !validIPv4(address) {
		return domain.AllowedSource{}, fmt.Errorf("address %q: %w", address, ErrInvalidAddress)
	}

	count, err := s.sources.CountByUserID(ctx, userID)
	if err != nil {
		return domain.AllowedSource{}, err
	}
	if count >= maxSourcesPerUser {
		return domain.AllowedSource{}, fmt.Errorf("user %s has %d sources: %w", userID, count, ErrSourceLimit)
	}

	// The provider rule goes in before the row: a failed authorize must
	// not leave a stored source with no matching rule. Without an
	// instance, provisioning applies the stored list later.
	instance, err := s.findInstance(ctx, userID)
	if err == nil {
		if count == 0 {
			if err := s.provider.RevokeSource(ctx, instance.AccessGroupID, openCIDR); err != nil {
				log.Printf("sources %s: revoke open rule: %v", userID, err)
			}
		}
		if err := s.provider.AuthorizeSource(ctx, instance.AccessGroupID, address+"/32"); err != nil {
			return domain.AllowedSource{}, err
		}
	} else if !errors.Is(err, ErrInstanceNotFound) {
		return domain.AllowedSource{}, err
	}

	source, err := s.sources.Save(ctx, domain.AllowedSource{
		UserID:    userID,
		Address:   address,
		CreatedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.AllowedSource{}, fmt.Errorf("address %s: %w", address, ErrDuplicateSource)
		}
		return domain.AllowedSource{}, err
	}
	return source, nil
}

// RemoveSource revokes and deletes one allowed source. The provider revoke
// is best-effort; the local row always goes.
func (s *Service) RemoveSource(ctx context.Context, userID, sourceID string) error {
	source, err := s.sources.FindByID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("source %s: %w", sourceID, ErrSourceNotFound)
		}
		return err
	}
	if source.UserID != userID {
		return fmt.Errorf("source %s: %w", sourceID, ErrSourceNotFound)
	}

	instance, err := s.findInstance(ctx, userID)
	if err == nil {
		if err := s.provider.RevokeSource(ctx, instance.AccessGroupID, source.Address+"/32"); err != nil {
			log.Printf("sources %s: revoke %s: %v", userID, source.Address, err)
		}
	} else if !errors.Is(err, ErrInstanceNotFound) {
		return err
	}

	return s.sources.DeleteByID(ctx, sourceID)
}
