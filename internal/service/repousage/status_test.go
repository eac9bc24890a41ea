package repousage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"synxronusage/internal/domain"
	"synxronusage/internal/service/repousage"
)

func TestEvaluateStatus(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := func(d time.Duration) *time.Time {
		at := now.Add(d)
		return &at
	}
	n := domain.Int64Ptr

	cases := []struct {
		name         string
		usage        domain.RepoUsage
		restrictions domain.RepoUsage
		level        domain.UsageLevel
		warnings     int
		errors       int
	}{
		{"no restrictions", domain.RepoUsage{Users: n(1000)}, domain.RepoUsage{}, domain.UsageLevelOK, 0, 0},
		{"unknown usage", domain.RepoUsage{}, domain.RepoUsage{Users: n(5), Documents: n(5)}, domain.UsageLevelOK, 0, 0},
		{"zero limit ignored", domain.RepoUsage{Users: n(3)}, domain.RepoUsage{Users: n(0)}, domain.UsageLevelOK, 0, 0},
		{"users well below", domain.RepoUsage{Users: n(5)}, domain.RepoUsage{Users: n(7)}, domain.UsageLevelOK, 0, 0},
		{"users one below", domain.RepoUsage{Users: n(6)}, domain.RepoUsage{Users: n(7)}, domain.UsageLevelWarnAdmin, 1, 0},
		{"users ninety percent", domain.RepoUsage{Users: n(90)}, domain.RepoUsage{Users: n(100)}, domain.UsageLevelWarnAdmin, 1, 0},
		{"users at limit", domain.RepoUsage{Users: n(7)}, domain.RepoUsage{Users: n(7)}, domain.UsageLevelWarnAll, 1, 0},
		{"users exceeded", domain.RepoUsage{Users: n(8)}, domain.RepoUsage{Users: n(7)}, domain.UsageLevelLockedDown, 0, 1},
		{"documents ninety percent", domain.RepoUsage{Documents: n(90)}, domain.RepoUsage{Documents: n(100)}, domain.UsageLevelOK, 0, 0},
		{"documents approaching", domain.RepoUsage{Documents: n(91)}, domain.RepoUsage{Documents: n(100)}, domain.UsageLevelWarnAdmin, 1, 0},
		{"documents reached", domain.RepoUsage{Documents: n(1000)}, domain.RepoUsage{Documents: n(1000)}, domain.UsageLevelWarnAll, 1, 0},
		{"documents exceeded", domain.RepoUsage{Documents: n(1001)}, domain.RepoUsage{Documents: n(1000)}, domain.UsageLevelLockedDown, 0, 1},
		{"license far", domain.RepoUsage{}, domain.RepoUsage{LicenseExpiryDate: in(90 * 24 * time.Hour)}, domain.UsageLevelOK, 0, 0},
		{"license within a month", domain.RepoUsage{}, domain.RepoUsage{LicenseExpiryDate: in(20 * 24 * time.Hour)}, domain.UsageLevelWarnAdmin, 1, 0},
		{"license within a week", domain.RepoUsage{}, domain.RepoUsage{LicenseExpiryDate: in(3 * 24 * time.Hour)}, domain.UsageLevelWarnAll, 1, 0},
		{"license expired", domain.RepoUsage{}, domain.RepoUsage{LicenseExpiryDate: in(-time.Hour)}, domain.UsageLevelLockedDown, 0, 1},
		{
			"most severe wins",
			domain.RepoUsage{Users: n(6), Documents: n(2000)},
			domain.RepoUsage{Users: n(7), Documents: n(1000), LicenseExpiryDate: in(3 * 24 * time.Hour)},
			domain.UsageLevelLockedDown, 2, 1,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			status := repousage.EvaluateStatus(c.usage, c.restrictions, now)
			require.Equal(t, c.level, status.Level)
			require.Len(t, status.Warnings, c.warnings)
			require.Len(t, status.Errors, c.errors)
		})
	}
}

func TestUsageLevelOrdering(t *testing.T) {
	t.Parallel()
	require.Less(t, domain.UsageLevelOK, domain.UsageLevelWarnAdmin)
	require.Less(t, domain.UsageLevelWarnAdmin, domain.UsageLevelWarnAll)
	require.Less(t, domain.UsageLevelWarnAll, domain.UsageLevelLockedDown)
	require.Equal(t, "LOCKED_DOWN", domain.UsageLevelLockedDown.String())
}
