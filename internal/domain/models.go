package domain

import "time"

// InstanceStatus is the locally tracked lifecycle state of an instance.
// The values mirror the provider's reported instance states so status
// badges in the UI line up with what the cloud console shows.
type InstanceStatus string

const (
	StatusPending    InstanceStatus = "PENDING"
	StatusStarting   InstanceStatus = "STARTING"
	StatusRunning    InstanceStatus = "RUNNING"
	StatusStopping   InstanceStatus = "STOPPING"
	StatusStopped    InstanceStatus = "STOPPED"
	StatusTerminated InstanceStatus = "TERMINATED"
	StatusFailed     InstanceStatus = "FAILED"
)

// providerStateMap translates provider state names into local statuses.
// shutting-down maps to STOPPING because from the portal's point of view
// the instance is on its way down either way.
var providerStateMap = map[string]InstanceStatus{
	"pending":       StatusPending,
	"running":       StatusRunning,
	"stopping":      StatusStopping,
	"stopped":       StatusStopped,
	"shutting-down": StatusStopping,
	"terminated":    StatusTerminated,
}

// MapProviderState maps a provider-reported state name to a local status.
// Unrecognized names fall back to the previously known status so a new or
// unexpected provider state never corrupts local tracking.
func MapProviderState(state string, fallback InstanceStatus) InstanceStatus {
	if mapped, ok := providerStateMap[state]; ok {
		return mapped
	}
	return fallback
}

// IsTransient reports whether a status is expected to change on its own on
// the provider side, meaning a reconcile against the provider is worthwhile.
func (s InstanceStatus) IsTransient() bool {
	return s == StatusPending || s == StatusStarting || s == StatusStopping
}

// Instance is the single cloud compute resource a user may hold.
type Instance struct {
	ID            int64          // Unique identifier
	UserID        string         // Owning user (unique, 1:1)
	ProviderID    string         // Provider-assigned resource id
	Type          string         // Instance type/size class
	Status        InstanceStatus // Last known lifecycle status
	PublicIP      string         // Public address, empty until running
	PrivateIP     string         // Private address from launch
	KeyPairName   string         // Provider keypair reference
	AccessGroupID string         // Provider network-access-group reference
	AlarmName     string         // Auto-stop alarm name, empty if creation failed
	CreatedAt     time.Time
	LaunchedAt    *time.Time // First observed transition into RUNNING
	StoppedAt     *time.Time // Last observed transition into STOPPED
}

// UsageInterval is one contiguous span during which an instance was
// believed to be running; the unit of billing. StoppedAt is nil while the
// interval is still open. At most one open interval exists per instance.
type UsageInterval struct {
	ID              int64
	InstanceID      int64
	StartedAt       time.Time
	StoppedAt       *time.Time
	DurationMinutes *int64 // Set once when the interval is closed
}

// InstanceConfig is the per-user entitlement set by an administrator:
// whether the user may hold an instance (quota 0 or 1) and which type.
type InstanceConfig struct {
	UserID string
	Quota  int
	Type   string
}

// AllowedSource is one network address permitted to reach the instance's
// management port. Capped at a small fixed count per user.
type AllowedSource struct {
	ID        string // Random identifier
	UserID    string
	Address   string // Plain IPv4 address, authorized as a /32
	CreatedAt time.Time
}

// InstanceKey holds the generated private key material for an instance's
// keypair so the owner can download it after provisioning.
type InstanceKey struct {
	InstanceID  int64
	KeyPairName string
	PrivateKey  string
	Fingerprint string
}
