package license

// LicenseError is a machine-readable error for license operations. Code is
// the short reason string surfaced to client software; Message is for logs
// and admin responses.
type LicenseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e LicenseError) Error() string {
	return e.Message
}

// Error taxonomy. ErrStoreUnavailable is the only retryable error; client
// software must never read it as a license-invalid state.
var (
	ErrNotFound               = LicenseError{Code: "not_found", Message: "license key not found"}
	ErrActivationLimitReached = LicenseError{Code: "max_activations_reached", Message: "all activation slots are in use"}
	ErrInvalidTransition      = LicenseError{Code: "invalid_transition", Message: "unrecognized license status transition"}
	ErrStoreUnavailable       = LicenseError{Code: "store_unavailable", Message: "license store temporarily unavailable"}
)

// NotActiveError reports an activation attempt against a license that is
// not currently active. Reason carries the specific state: "suspended",
// "revoked" or "expired".
type NotActiveError struct {
	Reason string
}

func (e NotActiveError) Error() string {
	return "license is not active: " + e.Reason
}

// Code returns the wire error code for the inactive state
func (e NotActiveError) Code() string {
	return "license_" + e.Reason
}
