package lifecycle

import (
	"context"
	"log"
)

// SweepReport summarizes one orphan sweep run.
type SweepReport struct {
	TerminatedInstances []string
	DeletedGroups       []string
	DeletedKeyPairs     []string
	SkippedGroups       []string
}

// SweepOrphans finds provider resources tagged as managed by this service
// that have no matching local record and removes them. Instances launched
// by the service but lost locally are terminated; stray access groups and
// keypairs are deleted. Group deletions that fail (usually still attached
// to an instance) are logged and skipped for a later run.
func (s *Service) SweepOrphans(ctx context.Context) (SweepReport, error) {
	managed, err := s.provider.ListManagedResources(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	instances, err := s.instances.FindAll(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	knownProviderIDs := make(map[string]bool, len(instances))
	knownGroupIDs := make(map[string]bool, len(instances))
	knownKeyPairs := make(map[string]bool, len(instances))
	for _, instance := range instances {
		knownProviderIDs[instance.ProviderID] = true
		knownGroupIDs[instance.AccessGroupID] = true
		knownKeyPairs[instance.KeyPairName] = true
	}

	var report SweepReport

	for _, managed := range managed.Instances {
		if knownProviderIDs[managed.ProviderID] || managed.State == "terminated" {
			continue
		}
		if err := s.provider.TerminateInstance(ctx, managed.ProviderID); err != nil {
			log.Printf("sweep: terminate orphan %s: %v", managed.ProviderID, err)
			continue
		}
		log.Printf("sweep: terminated orphan instance %s (user tag %q)", managed.ProviderID, managed.UserID)
		report.TerminatedInstances = append(report.TerminatedInstances, managed.ProviderID)
	}

	for _, group := range managed.Groups {
		if knownGroupIDs[group.ID] {
			continue
		}
		if err := s.provider.DeleteAccessGroup(ctx, group.ID); err != nil {
			log.Printf("sweep: delete group %s (%s) skipped: %v", group.ID, group.Name, err)
			report.SkippedGroups = append(report.SkippedGroups, group.ID)
			continue
		}
		log.Printf("sweep: deleted orphan group %s (%s)", group.ID, group.Name)
		report.DeletedGroups = append(report.DeletedGroups, group.ID)
	}

	for _, keyPair := range managed.KeyPairs {
		if knownKeyPairs[keyPair] {
			continue
		}
		if err := s.provider.DeleteKeyPair(ctx, keyPair); err != nil {
			log.Printf("sweep: delete keypair %s: %v", keyPair, err)
			continue
		}
		log.Printf("sweep: deleted orphan keypair %s", keyPair)
		report.DeletedKeyPairs = append(report.DeletedKeyPairs, keyPair)
	}

	return report, nil
}
