package license

import (
	"context"
	"time"

	"embpay-license-server/internal/database"
)

// Config holds issuance defaults
type Config struct {
	KeyPrefix             string
	DefaultMaxActivations int
}

// VerifyRequest is a read-only license check from customer software.
// MachineID is informational only: verify never enforces machine binding,
// that happens at activate/deactivate.
type VerifyRequest struct {
	Key       string
	MachineID string
	ProductID string
}

// VerifyResult is the public verification outcome. Reason is a short
// machine-readable code; License carries no customer PII.
type VerifyResult struct {
	Valid   bool         `json:"valid"`
	Reason  string       `json:"reason,omitempty"`
	License *LicenseInfo `json:"license,omitempty"`
}

// LicenseInfo is the metadata exposed to unauthenticated callers
type LicenseInfo struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	ProductID      string     `json:"product_id"`
	ProductName    string     `json:"product_name"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Activations    int        `json:"activations"`
	MaxActivations int        `json:"max_activations"`
}

// ActivateRequest binds a machine to a license key
type ActivateRequest struct {
	Key         string
	MachineID   string
	MachineName string
	IPAddress   string
	UserAgent   string
}

// ActivateResult reports a successful (possibly idempotent) activation
type ActivateResult struct {
	Success    bool            `json:"success"`
	Activation *ActivationInfo `json:"activation,omitempty"`
}

// ActivationInfo identifies the slot held by the machine
type ActivationInfo struct {
	ID        string `json:"id"`
	MachineID string `json:"machine_id"`
}

// DeactivateRequest releases a machine's slot
type DeactivateRequest struct {
	Key       string
	MachineID string
}

// IssueRequest creates a new license key. OrderID, when set, makes issuance
// idempotent: re-issuing for the same order returns the existing license.
type IssueRequest struct {
	ProductID      string
	ProductName    string
	OrderID        string
	OwnerUserID    string
	CustomerEmail  string
	CustomerName   string
	MaxActivations int
	ExpiresAt      *time.Time
}

// Actor identifies who triggered an admin command, for the audit trail
type Actor struct {
	ID        string
	Email     string
	IPAddress string
}

// Store is the persistence contract the license core needs. It is
// implemented by *database.Repository; tests substitute an in-memory fake.
type Store interface {
	CreateLicense(ctx context.Context, license *database.License) error
	GetLicenseByKey(ctx context.Context, key string) (*database.License, error)
	GetLicenseByID(ctx context.Context, id string) (*database.License, error)
	GetLicenseByOrderID(ctx context.Context, orderID string) (*database.License, error)
	ListLicenses(ctx context.Context, filter database.LicenseFilter) ([]database.License, int, error)
	UpdateLicenseStatus(ctx context.Context, id, status string, reason *string, revokedAt *time.Time) error
	TouchLicenseVerified(ctx context.Context, id string) error
	SuspendLicensesForOwner(ctx context.Context, ownerUserID, reason string) ([]database.License, error)

	CountActiveActivations(ctx context.Context, licenseID string) (int, error)
	FindActivation(ctx context.Context, licenseID, machineID string) (*database.Activation, error)
	ListActivations(ctx context.Context, licenseID string) ([]database.Activation, error)
	TryActivate(ctx context.Context, licenseID, machineID, machineName, ipAddress, userAgent string) (*database.Activation, bool, error)
	DeactivateMachine(ctx context.Context, licenseID, machineID string) (bool, error)
	DeactivateAllForLicense(ctx context.Context, licenseID string) (int, error)
}
