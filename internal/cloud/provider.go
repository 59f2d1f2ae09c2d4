package cloud

import (
	"context"
	"errors"
)

// ErrInstanceNotFound is returned by DescribeInstance when the provider no
// longer knows the resource, as opposed to a transient API failure.
var ErrInstanceNotFound = errors.New("instance not found at provider")

// LaunchSpec describes the compute resource to create for a user.
type LaunchSpec struct {
	UserID        string
	InstanceType  string
	VolumeSizeGB  int32
	KeyPairName   string
	AccessGroupID string
}

// LaunchResult is what the provider reports back from a successful launch.
type LaunchResult struct {
	ProviderID string
	PrivateIP  string
}

// InstanceState is the provider's current view of a compute resource.
// State uses the provider's own names ("pending", "running", ...).
type InstanceState struct {
	ProviderID string
	State      string
	PublicIP   string
}

// KeyMaterial is a freshly created keypair including its private half,
// which the provider only reveals once.
type KeyMaterial struct {
	Name        string
	PrivateKey  string
	Fingerprint string
}

// ManagedInstance is a provider compute resource carrying this service's
// management tag, used by the orphan sweep.
type ManagedInstance struct {
	ProviderID string
	UserID     string
	State      string
}

// ManagedGroup is a provider access group carrying the management tag.
type ManagedGroup struct {
	ID   string
	Name string
}

// ManagedResources are all provider resources tagged as managed by this
// service.
type ManagedResources struct {
	Instances []ManagedInstance
	Groups    []ManagedGroup
	KeyPairs  []string
}

// Provider abstracts the cloud APIs the lifecycle service depends on.
// Implementations absorb provider-specific duplicate and absence errors
// where an operation is naturally idempotent, so callers see clean
// create-or-reuse semantics.
type Provider interface {
	// EnsureAccessGroup creates the named per-user access group, or
	// returns the existing group's ID when it already exists.
	EnsureAccessGroup(ctx context.Context, name, description string) (string, error)

	// DeleteAccessGroup removes an access group. Fails while instances
	// are still attached to it.
	DeleteAccessGroup(ctx context.Context, groupID string) error

	// AuthorizeSource opens tcp/22 from the given CIDR on a group.
	// Already-present rules are not an error.
	AuthorizeSource(ctx context.Context, groupID, cidr string) error

	// RevokeSource removes the tcp/22 rule for the given CIDR. Absent
	// rules are not an error.
	RevokeSource(ctx context.Context, groupID, cidr string) error

	// RecreateKeyPair deletes any stale keypair of the same name, then
	// creates a fresh one and returns its private key material.
	RecreateKeyPair(ctx context.Context, name string) (KeyMaterial, error)

	// DeleteKeyPair removes a keypair. Absent keypairs are not an error.
	DeleteKeyPair(ctx context.Context, name string) error

	// Launch creates the compute resource described by spec.
	Launch(ctx context.Context, spec LaunchSpec) (LaunchResult, error)

	StartInstance(ctx context.Context, providerID string) error
	StopInstance(ctx context.Context, providerID string) error
	TerminateInstance(ctx context.Context, providerID string) error

	// DescribeInstance returns the provider's current view of a resource.
	DescribeInstance(ctx context.Context, providerID string) (InstanceState, error)

	// PutStopAlarm installs the idle auto-stop alarm for a resource.
	PutStopAlarm(ctx context.Context, alarmName, providerID string) error

	// DeleteAlarm removes an auto-stop alarm. Absent alarms are not an
	// error.
	DeleteAlarm(ctx context.Context, alarmName string) error

	// ListManagedResources returns everything tagged as managed by this
	// service, for the orphan sweep.
	ListManagedResources(ctx context.Context) (ManagedResources, error)
}
