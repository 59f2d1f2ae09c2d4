package lifecycle

import "errors"

// Errors the HTTP layer maps to specific status codes.
var (
	// ErrNoQuota means the user has no instance entitlement.
	ErrNoQuota = errors.New("user has no instance entitlement")

	// ErrInstanceExists means the user already holds an instance.
	ErrInstanceExists = errors.New("user already has an instance")

	// ErrInstanceNotFound means the user holds no instance.
	ErrInstanceNotFound = errors.New("no instance for user")

	// ErrProvisionFailed hides infrastructure details from callers;
	// the underlying cause is logged server-side.
	ErrProvisionFailed = errors.New("provisioning failed")

	// ErrInvalidState means the instance's current status does not allow
	// the requested transition.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrSourceLimit means the user hit the allowed-source cap.
	ErrSourceLimit = errors.New("allowed source limit reached")

	// ErrInvalidAddress means the submitted address is not a plain IPv4
	// address.
	ErrInvalidAddress = errors.New("invalid IPv4 address")

	// ErrDuplicateSource means the address is already registered.
	ErrDuplicateSource = errors.New("address already registered")

	// ErrSourceNotFound means no allowed source matches the given id.
	ErrSourceNotFound = errors.New("allowed source not found")

	// ErrTypeImmutable means the entitlement's instance type cannot
	// change while the user holds an instance.
	ErrTypeImmutable = errors.New("instance type cannot change while an instance exists")

	// ErrUnknownType means the requested instance type is not in the
	// price book.
	ErrUnknownType = errors.New("unknown instance type")
)
