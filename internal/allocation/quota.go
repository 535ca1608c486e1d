package allocation

import "github.com/pavelanni/examhall/internal/model"

// EnrollmentDelta is the change in enrolled seats between two versions of a session.
func EnrollmentDelta(before, after model.Session) int {
	return after.Enrolled() - before.Enrolled()
}

// CheckQuota rejects a positive delta that would push the ledger past its total.
// A zero or negative delta always passes.
func CheckQuota(l model.QuotaLedger, delta int) error {
	if delta <= 0 {
		return nil
	}
	if l.QuotaUsed+delta > l.QuotaTotal {
		return &model.QuotaExceededError{Requested: delta, Available: l.Available()}
	}
	return nil
}

// ApplyDelta returns the ledger after committing delta. Usage never drops below zero.
func ApplyDelta(l model.QuotaLedger, delta int) (model.QuotaLedger, error) {
	if err := CheckQuota(l, delta); err != nil {
		return l, err
	}
	l.QuotaUsed += delta
	if l.QuotaUsed < 0 {
		l.QuotaUsed = 0
	}
	return l, nil
}
