// Package plan holds the subscription tier limits that gate backup
// operations. Limits are resolved by a pure function of the tier so the
// engine never consults global configuration state.
package plan

import (
	"fmt"
	"time"
)

// Tier identifies a subscription tier
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Unlimited is the sentinel for quotas without a ceiling
const Unlimited = -1

// Frequency identifies a schedule cadence
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// RestoreType identifies how backup data is applied during restore
type RestoreType string

const (
	RestoreTypeFull      RestoreType = "full"
	RestoreTypeSelective RestoreType = "selective"
	RestoreTypeMerge     RestoreType = "merge"
)

// Limits describes what a tier is entitled to
type Limits struct {
	MonthlyBackups      int           `json:"monthly_backups"` // Unlimited for no ceiling
	MaxStorageBytes     int64         `json:"max_storage_bytes"`
	RetentionDays       int           `json:"retention_days"`
	AllowedFrequencies  []Frequency   `json:"allowed_frequencies"`
	AllowedDisks        []string      `json:"allowed_disks"`
	EncryptionAvailable bool          `json:"encryption_available"`
	CustomKeys          bool          `json:"custom_keys"`
	RestoreTypes        []RestoreType `json:"restore_types"`
}

// Usage captures a tenant's current consumption against its limits
type Usage struct {
	BackupsThisMonth int   `json:"backups_this_month"`
	StorageUsedBytes int64 `json:"storage_used_bytes"`
}

// Decision is the outcome of a quota check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

const mib = int64(1024 * 1024)

var tierLimits = map[Tier]Limits{
	TierFree: {
		MonthlyBackups:      2,
		MaxStorageBytes:     500 * mib,
		RetentionDays:       7,
		AllowedFrequencies:  nil,
		AllowedDisks:        []string{"local"},
		EncryptionAvailable: false,
		CustomKeys:          false,
		RestoreTypes:        []RestoreType{RestoreTypeSelective},
	},
	TierBasic: {
		MonthlyBackups:      10,
		MaxStorageBytes:     5 * 1024 * mib,
		RetentionDays:       30,
		AllowedFrequencies:  []Frequency{FrequencyWeekly, FrequencyMonthly},
		AllowedDisks:        []string{"local"},
		EncryptionAvailable: true,
		CustomKeys:          false,
		RestoreTypes:        []RestoreType{RestoreTypeSelective, RestoreTypeMerge},
	},
	TierPro: {
		MonthlyBackups:      Unlimited,
		MaxStorageBytes:     50 * 1024 * mib,
		RetentionDays:       90,
		AllowedFrequencies:  []Frequency{FrequencyDaily, FrequencyWeekly, FrequencyMonthly},
		AllowedDisks:        []string{"local", "s3", "gcs", "azure"},
		EncryptionAvailable: true,
		CustomKeys:          false,
		RestoreTypes:        []RestoreType{RestoreTypeSelective, RestoreTypeMerge, RestoreTypeFull},
	},
	TierEnterprise: {
		MonthlyBackups:      Unlimited,
		MaxStorageBytes:     500 * 1024 * mib,
		RetentionDays:       365,
		AllowedFrequencies:  []Frequency{FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly},
		AllowedDisks:        []string{"local", "s3", "gcs", "azure"},
		EncryptionAvailable: true,
		CustomKeys:          true,
		RestoreTypes:        []RestoreType{RestoreTypeSelective, RestoreTypeMerge, RestoreTypeFull},
	},
}

// DefaultTier is used for organizations without an assigned tier
const DefaultTier = TierFree

// LimitsFor returns the limits for a tier. Unknown tiers fall back to the
// default tier rather than failing open.
func LimitsFor(tier Tier) Limits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[DefaultTier]
}

// CheckBackupAllowed decides whether a new backup may be requested given the
// tenant's usage. Quota is evaluated at request time; backups that later fail
// never count because Usage only includes pending, processing and completed
// backups for the current calendar month.
func CheckBackupAllowed(limits Limits, usage Usage) Decision {
	if limits.MonthlyBackups != Unlimited && usage.BackupsThisMonth >= limits.MonthlyBackups {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("monthly backup limit reached (%d of %d used)",
				usage.BackupsThisMonth, limits.MonthlyBackups),
		}
	}

	if limits.MaxStorageBytes != Unlimited && usage.StorageUsedBytes >= limits.MaxStorageBytes {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("storage limit reached (%d of %d bytes used)",
				usage.StorageUsedBytes, limits.MaxStorageBytes),
		}
	}

	return Decision{Allowed: true}
}

// CanSchedule reports whether the tier permits recurring backups at the
// given frequency.
func CanSchedule(limits Limits, frequency Frequency) bool {
	for _, f := range limits.AllowedFrequencies {
		if f == frequency {
			return true
		}
	}
	return false
}

// CanUseEncryption reports whether the tier permits encrypted archives
func CanUseEncryption(limits Limits) bool {
	return limits.EncryptionAvailable
}

// CanRestore reports whether the tier permits the given restore type
func CanRestore(limits Limits, restoreType RestoreType) bool {
	for _, rt := range limits.RestoreTypes {
		if rt == restoreType {
			return true
		}
	}
	return false
}

// AllowedStorageDisks returns the storage disk identifiers the tier may use
func AllowedStorageDisks(limits Limits) []string {
	disks := make([]string, len(limits.AllowedDisks))
	copy(disks, limits.AllowedDisks)
	return disks
}

// DiskAllowed reports whether a specific disk is permitted for the tier
func DiskAllowed(limits Limits, disk string) bool {
	for _, d := range limits.AllowedDisks {
		if d == disk {
			return true
		}
	}
	return false
}

// ExpiryFor computes the expiry timestamp for a backup created at the given
// time under the tier's retention window.
func ExpiryFor(limits Limits, createdAt time.Time) time.Time {
	return createdAt.AddDate(0, 0, limits.RetentionDays)
}

// MonthWindow returns the inclusive start and exclusive end of the calendar
// month containing t, in t's location. Quota counting uses this window.
func MonthWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

// ValidTier reports whether the value names a known tier
func ValidTier(t Tier) bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// ValidFrequency reports whether the value names a known cadence
func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// ValidRestoreType reports whether the value names a known restore type
func ValidRestoreType(rt RestoreType) bool {
	switch rt {
	case RestoreTypeFull, RestoreTypeSelective, RestoreTypeMerge:
		return true
	}
	return false
}
