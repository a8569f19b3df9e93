// Package settings is the user-facing configuration store: a validated
// snapshot persisted as one row in storage, partial updates, and change
// notification with unsubscribe capabilities.
package settings

import (
	"regexp"

	"incomed/internal/core"
)

// Update frequency choices. Auto adapts to recent activity; the others
// fix the polling interval.
const (
	FrequencyAuto   = "auto"
	FrequencyFast   = "fast"
	FrequencyNormal = "normal"
	FrequencySlow   = "slow"
	FrequencyCustom = "custom"
)

// Sync provider names. The adapters live in internal/provider; settings
// only carries the selection and the non-sensitive connection fields.
const (
	ProviderLocal     = "local"
	ProviderWebDAV    = "webdav"
	ProviderS3        = "s3"
	ProviderAliyunOSS = "aliyun-oss"
)

// Settings is the full configuration snapshot consumed by the engine and
// the sync coordinator. Secrets never appear here.
type Settings struct {
	MonthlyIncome        core.Money `json:"monthlyIncome"`
	WorkDays             []int      `json:"workDays"`
	AutoStartWork        bool       `json:"autoStartWork"`
	UseScheduledWorkTime bool       `json:"useScheduledWorkTime"`
	WorkStartTime        string     `json:"workStartTime"`
	WorkEndTime          string     `json:"workEndTime"`
	PrecisionLevel       int        `json:"precisionLevel"`
	OvertimeEnabled      bool       `json:"overtimeEnabled"`
	OvertimeRate         float64    `json:"overtimeRate"`
	DeductForEarlyLeave  bool       `json:"deductForEarlyLeave"`
	AutoSync             bool       `json:"autoSync"`
	SyncProvider         string     `json:"syncProvider"`
	SyncEndpoint         string     `json:"syncEndpoint"`
	SyncUsername         string     `json:"syncUsername"`
	SyncBucket           string     `json:"syncBucket"`
	UpdateFrequency      string     `json:"updateFrequency"`
	CustomUpdateFreqMs   int        `json:"customUpdateFrequencyMs"`
	BlurStatusIncome     bool       `json:"blurStatusIncome"`
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	MonthlyIncome        *core.Money `json:"monthlyIncome,omitempty"`
	WorkDays             *[]int      `json:"workDays,omitempty"`
	AutoStartWork        *bool       `json:"autoStartWork,omitempty"`
	UseScheduledWorkTime *bool       `json:"useScheduledWorkTime,omitempty"`
	WorkStartTime        *string     `json:"workStartTime,omitempty"`
	WorkEndTime          *string     `json:"workEndTime,omitempty"`
	PrecisionLevel       *int        `json:"precisionLevel,omitempty"`
	OvertimeEnabled      *bool       `json:"overtimeEnabled,omitempty"`
	OvertimeRate         *float64    `json:"overtimeRate,omitempty"`
	DeductForEarlyLeave  *bool       `json:"deductForEarlyLeave,omitempty"`
	AutoSync             *bool       `json:"autoSync,omitempty"`
	SyncProvider         *string     `json:"syncProvider,omitempty"`
	SyncEndpoint         *string     `json:"syncEndpoint,omitempty"`
	SyncUsername         *string     `json:"syncUsername,omitempty"`
	SyncBucket           *string     `json:"syncBucket,omitempty"`
	UpdateFrequency      *string     `json:"updateFrequency,omitempty"`
	CustomUpdateFreqMs   *int        `json:"customUpdateFrequencyMs,omitempty"`
	BlurStatusIncome     *bool       `json:"blurStatusIncome,omitempty"`
}

// Default returns the configuration used before the user changes anything.
func Default() Settings {
	return Settings{
		MonthlyIncome:      core.Money{Cents: 10000 * 100},
		WorkDays:           []int{1, 2, 3, 4, 5},
		WorkStartTime:      "09:00",
		WorkEndTime:        "18:00",
		PrecisionLevel:     2,
		OvertimeEnabled:    true,
		OvertimeRate:       1.5,
		SyncProvider:       ProviderLocal,
		UpdateFrequency:    FrequencyAuto,
		CustomUpdateFreqMs: 3000,
	}
}

var clockRe = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// sanitize repairs a snapshot in place: malformed values fall back to the
// defaults so readers never observe an invalid configuration.
func sanitize(s *Settings) {
	def := Default()

	if s.MonthlyIncome.Cents <= 0 {
		s.MonthlyIncome = def.MonthlyIncome
	}

	days := s.WorkDays[:0]
	for _, d := range s.WorkDays {
		if d >= 0 && d <= 6 {
			days = append(days, d)
		}
	}
	s.WorkDays = dedupSorted(days)
	if len(s.WorkDays) == 0 {
		s.WorkDays = append([]int(nil), def.WorkDays...)
	}

	if !clockRe.MatchString(s.WorkStartTime) {
		s.WorkStartTime = def.WorkStartTime
	}
	if !clockRe.MatchString(s.WorkEndTime) {
		s.WorkEndTime = def.WorkEndTime
	}

	if s.PrecisionLevel < 0 || s.PrecisionLevel > 10 {
		s.PrecisionLevel = def.PrecisionLevel
	}

	// Overtime below the regular rate is never valid.
	if s.OvertimeRate < 1.0 {
		s.OvertimeRate = def.OvertimeRate
	}

	switch s.SyncProvider {
	case ProviderLocal, ProviderWebDAV, ProviderS3, ProviderAliyunOSS:
	default:
		s.SyncProvider = ProviderLocal
	}

	switch s.UpdateFrequency {
	case FrequencyAuto, FrequencyFast, FrequencyNormal, FrequencySlow, FrequencyCustom:
	default:
		s.UpdateFrequency = FrequencyAuto
	}

	if s.CustomUpdateFreqMs < 100 || s.CustomUpdateFreqMs > 60000 {
		s.CustomUpdateFreqMs = def.CustomUpdateFreqMs
	}
}

func dedupSorted(days []int) []int {
	seen := [7]bool{}
	for _, d := range days {
		seen[d] = true
	}
	out := make([]int, 0, 7)
	for d := 0; d < 7; d++ {
		if seen[d] {
			out = append(out, d)
		}
	}
	return out
}

func (s Settings) clone() Settings {
	out := s
	out.WorkDays = append([]int(nil), s.WorkDays...)
	return out
}

func (p Patch) apply(s *Settings) {
	if p.MonthlyIncome != nil {
		s.MonthlyIncome = *p.MonthlyIncome
	}
	if p.WorkDays != nil {
		s.WorkDays = append([]int(nil), (*p.WorkDays)...)
	}
	if p.AutoStartWork != nil {
		s.AutoStartWork = *p.AutoStartWork
	}
	if p.UseScheduledWorkTime != nil {
		s.UseScheduledWorkTime = *p.UseScheduledWorkTime
	}
	if p.WorkStartTime != nil {
		s.WorkStartTime = *p.WorkStartTime
	}
	if p.WorkEndTime != nil {
		s.WorkEndTime = *p.WorkEndTime
	}
	if p.PrecisionLevel != nil {
		s.PrecisionLevel = *p.PrecisionLevel
	}
	if p.OvertimeEnabled != nil {
		s.OvertimeEnabled = *p.OvertimeEnabled
	}
	if p.OvertimeRate != nil {
		s.OvertimeRate = *p.OvertimeRate
	}
	if p.DeductForEarlyLeave != nil {
		s.DeductForEarlyLeave = *p.DeductForEarlyLeave
	}
	if p.AutoSync != nil {
		s.AutoSync = *p.AutoSync
	}
	if p.SyncProvider != nil {
		s.SyncProvider = *p.SyncProvider
	}
	if p.SyncEndpoint != nil {
		s.SyncEndpoint = *p.SyncEndpoint
	}
	if p.SyncUsername != nil {
		s.SyncUsername = *p.SyncUsername
	}
	if p.SyncBucket != nil {
		s.SyncBucket = *p.SyncBucket
	}
	if p.UpdateFrequency != nil {
		s.UpdateFrequency = *p.UpdateFrequency
	}
	if p.CustomUpdateFreqMs != nil {
		s.CustomUpdateFreqMs = *p.CustomUpdateFreqMs
	}
	if p.BlurStatusIncome != nil {
		s.BlurStatusIncome = *p.BlurStatusIncome
	}
}
