package repousage

import (
	"fmt"
	"time"

	"synxronusage/internal/domain"
)

const day = 24 * time.Hour

type statusBuilder struct {
	status domain.RepoUsageStatus
}

func (b *statusBuilder) warn(level domain.UsageLevel, format string, args ...any) {
	b.status.Warnings = append(b.status.Warnings, fmt.Sprintf(format, args...))
	b.raise(level)
}

func (b *statusBuilder) fail(format string, args ...any) {
	b.status.Errors = append(b.status.Errors, fmt.Sprintf(format, args...))
	b.raise(domain.UsageLevelLockedDown)
}

func (b *statusBuilder) raise(level domain.UsageLevel) {
	if level > b.status.Level {
		b.status.Level = level
	}
}

// EvaluateStatus compares usage with restrictions at now. The result level
// is the most severe level reached by any check.
func EvaluateStatus(usage, restrictions domain.RepoUsage, now time.Time) domain.RepoUsageStatus {
	b := &statusBuilder{status: domain.RepoUsageStatus{
		Level:    domain.UsageLevelOK,
		Warnings: []string{},
		Errors:   []string{},
	}}

	if usage.Users != nil && restrictions.Users != nil && *restrictions.Users > 0 {
		current, limit := *usage.Users, *restrictions.Users
		switch {
		case current > limit:
			b.fail("The user limit of %d has been exceeded: %d users are registered.", limit, current)
		case current == limit:
			b.warn(domain.UsageLevelWarnAll, "The user limit of %d has been reached.", limit)
		case float64(current) >= 0.9*float64(limit) || current >= limit-1:
			b.warn(domain.UsageLevelWarnAdmin, "The user limit of %d is nearly reached: %d users are registered.", limit, current)
		}
	}

	if usage.Documents != nil && restrictions.Documents != nil && *restrictions.Documents > 0 {
		current, limit := *usage.Documents, *restrictions.Documents
		switch {
		case current > limit:
			b.fail("The document limit of %d has been exceeded: %d documents are stored.", limit, current)
		case float64(current) > 0.99*float64(limit):
			b.warn(domain.UsageLevelWarnAll, "The document limit of %d has been reached.", limit)
		case float64(current) > 0.9*float64(limit):
			b.warn(domain.UsageLevelWarnAdmin, "The document limit of %d is nearly reached: %d documents are stored.", limit, current)
		}
	}

	if restrictions.LicenseExpiryDate != nil {
		remaining := restrictions.LicenseExpiryDate.Sub(now)
		days := int(remaining / day)
		switch {
		case remaining <= 0:
			b.fail("The license expired on %s.", restrictions.LicenseExpiryDate.Format(time.DateOnly))
		case days <= 7:
			b.warn(domain.UsageLevelWarnAll, "The license expires in %d days.", days)
		case days <= 30:
			b.warn(domain.UsageLevelWarnAdmin, "The license expires in %d days.", days)
		}
	}

	return b.status
}
