package domain

import (
	"time"

	"github.com/google/uuid"
)

// UnlimitedQuota disables the quota check for a person.
const UnlimitedQuota int64 = -1

type Person struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserName    string    `json:"user_name" db:"user_name"`
	SizeCurrent *int64    `json:"size_current,omitempty" db:"size_current"`
	SizeQuota   *int64    `json:"size_quota,omitempty" db:"size_quota"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Quota returns the configured quota or UnlimitedQuota.
func (p *Person) Quota() int64 {
	if p.SizeQuota == nil {
		return UnlimitedQuota
	}
	return *p.SizeQuota
}

type UserUsageInfo struct {
	UserName     string  `json:"user_name"`
	Usage        int64   `json:"usage"`
	Quota        int64   `json:"quota"`
	UsagePercent float64 `json:"usage_percent,omitempty"`
}
