package license

import (
	"context"
	"fmt"
	"sync"
	"time"

	"embpay-license-server/internal/database"
)

// memStore is an in-memory Store for tests. A single mutex serializes
// everything, which gives the same atomicity the real store gets from
// its transaction.
type memStore struct {
	mu          sync.Mutex
	licenses    map[string]*database.License
	activations map[string][]*database.Activation
	audits      []*database.AuditLogEntry
	nextID      int

	// When set, every call fails with this error
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		licenses:    make(map[string]*database.License),
		activations: make(map[string][]*database.Activation),
	}
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStore) CreateLicense(ctx context.Context, lic *database.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	// Same shape as the repository: the ID is assigned before the insert
	// can still fail on a unique constraint
	if lic.ID == "" {
		lic.ID = m.id("lic")
	}
	for _, existing := range m.licenses {
		if existing.Key == lic.Key {
			return database.ErrDuplicateKey
		}
		if existing.OrderID != nil && lic.OrderID != nil && *existing.OrderID == *lic.OrderID {
			return database.ErrDuplicateOrder
		}
	}
	lic.CreatedAt = time.Now()
	cp := *lic
	m.licenses[lic.ID] = &cp
	return nil
}

func (m *memStore) GetLicenseByKey(ctx context.Context, key string) (*database.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, lic := range m.licenses {
		if lic.Key == key {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetLicenseByID(ctx context.Context, id string) (*database.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	lic, ok := m.licenses[id]
	if !ok {
		return nil, nil
	}
	cp := *lic
	return &cp, nil
}

func (m *memStore) GetLicenseByOrderID(ctx context.Context, orderID string) (*database.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, lic := range m.licenses {
		if lic.OrderID != nil && *lic.OrderID == orderID {
			cp := *lic
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListLicenses(ctx context.Context, filter database.LicenseFilter) ([]database.License, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, 0, m.failWith
	}
	var out []database.License
	for _, lic := range m.licenses {
		if filter.Status != "" && lic.Status != filter.Status {
			continue
		}
		out = append(out, *lic)
	}
	return out, len(out), nil
}

func (m *memStore) UpdateLicenseStatus(ctx context.Context, id, status string, reason *string, revokedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	lic, ok := m.licenses[id]
	if !ok {
		return database.ErrLicenseNotFound
	}
	lic.Status = status
	lic.RevokedReason = reason
	lic.RevokedAt = revokedAt
	lic.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) TouchLicenseVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if lic, ok := m.licenses[id]; ok {
		now := time.Now()
		lic.LastVerifiedAt = &now
	}
	return nil
}

func (m *memStore) SuspendLicensesForOwner(ctx context.Context, ownerUserID, reason string) ([]database.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var suspended []database.License
	for _, lic := range m.licenses {
		if lic.OwnerUserID == ownerUserID && lic.Status == database.StatusActive {
			lic.Status = database.StatusSuspended
			suspended = append(suspended, *lic)
		}
	}
	return suspended, nil
}

func (m *memStore) CountActiveActivations(ctx context.Context, licenseID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	return m.countActiveLocked(licenseID), nil
}

func (m *memStore) countActiveLocked(licenseID string) int {
	count := 0
	for _, a := range m.activations[licenseID] {
		if a.IsActive {
			count++
		}
	}
	return count
}

func (m *memStore) FindActivation(ctx context.Context, licenseID, machineID string) (*database.Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, a := range m.activations[licenseID] {
		if a.MachineID == machineID && a.IsActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListActivations(ctx context.Context, licenseID string) ([]database.Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []database.Activation
	for _, a := range m.activations[licenseID] {
		out = append(out, *a)
	}
	return out, nil
}

func (m *memStore) TryActivate(ctx context.Context, licenseID, machineID, machineName, ipAddress, userAgent string) (*database.Activation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, false, m.failWith
	}
	lic, ok := m.licenses[licenseID]
	if !ok {
		return nil, false, database.ErrLicenseNotFound
	}
	if lic.Status != database.StatusActive {
		return nil, false, database.ErrLicenseNotActive
	}

	for _, a := range m.activations[licenseID] {
		if a.MachineID == machineID && a.IsActive {
			now := time.Now()
			a.LastSeenAt = &now
			a.IPAddress = ipAddress
			cp := *a
			return &cp, false, nil
		}
	}

	if m.countActiveLocked(licenseID) >= lic.MaxActivations {
		return nil, false, database.ErrActivationLimitReached
	}

	now := time.Now()
	act := &database.Activation{
		ID:          m.id("act"),
		LicenseID:   licenseID,
		MachineID:   machineID,
		MachineName: machineName,
		IsActive:    true,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		CreatedAt:   now,
		LastSeenAt:  &now,
	}
	m.activations[licenseID] = append(m.activations[licenseID], act)
	cp := *act
	return &cp, true, nil
}

func (m *memStore) DeactivateMachine(ctx context.Context, licenseID, machineID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	for _, a := range m.activations[licenseID] {
		if a.MachineID == machineID && a.IsActive {
			now := time.Now()
			a.IsActive = false
			a.DeactivatedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeactivateAllForLicense(ctx context.Context, licenseID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	count := 0
	now := time.Now()
	for _, a := range m.activations[licenseID] {
		if a.IsActive {
			a.IsActive = false
			a.DeactivatedAt = &now
			count++
		}
	}
	return count, nil
}

func (m *memStore) InsertAuditLog(ctx context.Context, entry *database.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	entry.CreatedAt = time.Now()
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStore) auditCount(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.audits {
		if e.Action == action {
			count++
		}
	}
	return count
}
