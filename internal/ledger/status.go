package ledger

import "time"

// ContractStatus is derived from the contract end date relative to now.
// It is recomputed on every read and never persisted.
type ContractStatus string

const (
	StatusActive   ContractStatus = "Actif"
	StatusExpiring ContractStatus = "Expirant"
	StatusExpired  ContractStatus = "Expiré"
)

const (
	// ExpiringWindowDays is the lead window before end date in which a
	// contract reports Expirant.
	ExpiringWindowDays = 60
	// CriticalWindowDays marks the alerting refinement of Expirant.
	CriticalWindowDays = 15
)

// DaysRemaining returns whole days from now until the end date, negative
// once the contract is past its end.
func DaysRemaining(endDate, now time.Time) int {
	end := endDate.Truncate(24 * time.Hour)
	today := now.Truncate(24 * time.Hour)
	return int(end.Sub(today) / (24 * time.Hour))
}

// StatusAt derives the contract status as of now.
func StatusAt(endDate, now time.Time) ContractStatus {
	days := DaysRemaining(endDate, now)
	switch {
	case days < 0:
		return StatusExpired
	case days <= ExpiringWindowDays:
		return StatusExpiring
	default:
		return StatusActive
	}
}

// IsCritical reports whether the contract is within the critical alert
// window. Expired contracts are not critical, they are already gone.
func IsCritical(endDate, now time.Time) bool {
	days := DaysRemaining(endDate, now)
	return days >= 0 && days <= CriticalWindowDays
}

// Status derives the current status of the contract.
func (c Contract) Status() ContractStatus {
	return StatusAt(c.EndDate, time.Now())
}
