package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type UsageDelta struct {
	ID         int64     `json:"id" db:"id"`
	PersonID   uuid.UUID `json:"person_id" db:"person_id"`
	DeltaBytes int64     `json:"delta_bytes" db:"delta_bytes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type UsageType string

const (
	UsageUsers     UsageType = "users"
	UsageDocuments UsageType = "documents"
	UsageAll       UsageType = "all"
)

// RepoUsageCount is the persisted result of one repository count.
type RepoUsageCount struct {
	UsageType UsageType `db:"usage_type"`
	Count     int64     `db:"count"`
	UpdatedAt time.Time `db:"updated_at"`
}

type LicenseMode string

const (
	LicenseModeUnknown    LicenseMode = "UNKNOWN"
	LicenseModeTeam       LicenseMode = "TEAM"
	LicenseModeEnterprise LicenseMode = "ENTERPRISE"
)

// RepoUsage carries either current repository usage or the license
// restrictions it is measured against. Nil counts mean unknown or unlimited.
type RepoUsage struct {
	LastUpdate        *time.Time  `json:"last_update,omitempty"`
	Users             *int64      `json:"users,omitempty"`
	Documents         *int64      `json:"documents,omitempty"`
	LicenseMode       LicenseMode `json:"license_mode"`
	LicenseExpiryDate *time.Time  `json:"license_expiry_date,omitempty"`
	ReadOnly          bool        `json:"read_only"`
}

type UsageLevel int

const (
	UsageLevelOK UsageLevel = iota
	UsageLevelWarnAdmin
	UsageLevelWarnAll
	UsageLevelLockedDown
)

func (l UsageLevel) String() string {
	switch l {
	case UsageLevelOK:
		return "OK"
	case UsageLevelWarnAdmin:
		return "WARN_ADMIN"
	case UsageLevelWarnAll:
		return "WARN_ALL"
	case UsageLevelLockedDown:
		return "LOCKED_DOWN"
	default:
		return "UNKNOWN"
	}
}

func (l UsageLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *UsageLevel) UnmarshalText(text []byte) error {
	for level := UsageLevelOK; level <= UsageLevelLockedDown; level++ {
		if level.String() == string(text) {
			*l = level
			return nil
		}
	}
	return fmt.Errorf("unknown usage level %q", text)
}

type RepoUsageStatus struct {
	Level    UsageLevel `json:"level"`
	Warnings []string   `json:"warnings"`
	Errors   []string   `json:"errors"`
}

func Int64Ptr(v int64) *int64 {
	return &v
}
