package models

// Quota ceilings for one API key service level. A zero ceiling means
// the dimension is not limited for that tier.
type Tier struct {
	Name                   string `gorm:"primaryKey" json:"name"`
	RequestsPerDay         int64  `gorm:"not null" json:"requests_per_day"`
	RequestsPerMonth       int64  `gorm:"not null" json:"requests_per_month"`
	BytesPerDay            int64  `json:"bytes_per_day"`
	BytesPerMonth          int64  `json:"bytes_per_month"`
	ComputeSecondsPerDay   int64  `json:"compute_seconds_per_day"`
	ComputeSecondsPerMonth int64  `json:"compute_seconds_per_month"`
}

func (Tier) TableName() string {
	return "tiers"
}

// Limits for one accounting period.
type TierLimits struct {
	Requests       int64
	Bytes          int64
	ComputeSeconds int64
}

func (t *Tier) DailyLimits() TierLimits {
	return TierLimits{
		Requests:       t.RequestsPerDay,
		Bytes:          t.BytesPerDay,
		ComputeSeconds: t.ComputeSecondsPerDay,
	}
}

func (t *Tier) MonthlyLimits() TierLimits {
	return TierLimits{
		Requests:       t.RequestsPerMonth,
		Bytes:          t.BytesPerMonth,
		ComputeSeconds: t.ComputeSecondsPerMonth,
	}
}
