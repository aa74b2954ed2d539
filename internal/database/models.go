package database

import (
	"time"
)

// License status values. "expired" is derived from expires_at at read time
// and is never stored.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusRevoked   = "revoked"
)

// User roles
const (
	RoleMerchant   = "merchant"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// License represents a license key row
type License struct {
	ID             string     `json:"id" db:"id"`
	Key            string     `json:"key" db:"key"`
	ProductID      string     `json:"product_id" db:"product_id"`
	ProductName    string     `json:"product_name" db:"product_name"`
	OrderID        *string    `json:"order_id,omitempty" db:"order_id"`
	OwnerUserID    string     `json:"owner_user_id" db:"owner_user_id"`
	CustomerEmail  string     `json:"customer_email" db:"customer_email"`
	CustomerName   string     `json:"customer_name" db:"customer_name"`
	Status         string     `json:"status" db:"status"`
	MaxActivations int        `json:"max_activations" db:"max_activations"`
	ExpiresAt      *time.Time `json:"expires_at" db:"expires_at"`
	RevokedReason  *string    `json:"revoked_reason" db:"revoked_reason"`
	RevokedAt      *time.Time `json:"revoked_at" db:"revoked_at"`
	LastVerifiedAt *time.Time `json:"last_verified_at" db:"last_verified_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`

	// Populated by list queries, not a column
	ActiveActivations int `json:"active_activations" db:"-"`
}

// Expired reports whether the license is past its expiry. Stored status is
// never mutated for expiry; callers must check this alongside Status.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// Activation represents a machine activation row for a license
type Activation struct {
	ID            string     `json:"id" db:"id"`
	LicenseID     string     `json:"license_id" db:"license_id"`
	MachineID     string     `json:"machine_id" db:"machine_id"`
	MachineName   string     `json:"machine_name" db:"machine_name"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	IPAddress     string     `json:"ip_address" db:"ip_address"`
	UserAgent     string     `json:"user_agent" db:"user_agent"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastSeenAt    *time.Time `json:"last_seen_at" db:"last_seen_at"`
	DeactivatedAt *time.Time `json:"deactivated_at" db:"deactivated_at"`
}

// AuditLogEntry records an admin or system mutation for the audit trail
type AuditLogEntry struct {
	ID         string    `json:"id" db:"id"`
	AdminID    string    `json:"admin_id" db:"admin_id"`
	AdminEmail string    `json:"admin_email" db:"admin_email"`
	Action     string    `json:"action" db:"action"`
	TargetType string    `json:"target_type" db:"target_type"`
	TargetID   string    `json:"target_id" db:"target_id"`
	Details    string    `json:"details" db:"details"` // JSON payload
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// User represents an account that can authenticate against the admin surface
type User struct {
	ID               string     `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	Name             string     `json:"name" db:"name"`
	Role             string     `json:"role" db:"role"`
	StripeCustomerID *string    `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	LastLoginAt      *time.Time `json:"last_login_at" db:"last_login_at"`
}

// IsAdmin reports whether the user carries an admin capability
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleSuperAdmin
}
