package core

import (
	"errors"
	"time"
)

const (
	// DateLayout is the calendar-day key used everywhere: storage keys,
	// session dates and history lookups.
	DateLayout = "2006-01-02"

	// ClockLayout is the HH:MM wall-clock format used by the work schedule.
	ClockLayout = "15:04"
)

var (
	ErrAlreadyWorking = errors.New("a work session is already in progress")
	ErrNotWorking     = errors.New("no work session is in progress")
	ErrInvalidClock   = errors.New("invalid clock time, expected HH:MM")
	ErrInvalidAmount  = errors.New("invalid amount")
)

type (
	// WorkSession is a single start/end work interval. EndTime is nil while
	// the session is open; at most one session per day is open at a time.
	WorkSession struct {
		ID        string     `json:"id"`
		StartTime time.Time  `json:"startTime"`
		EndTime   *time.Time `json:"endTime,omitempty"`
		Date      string     `json:"date"`
	}

	// DailyData is the live aggregate for the current calendar day.
	DailyData struct {
		Date               string        `json:"date"`
		Sessions           []WorkSession `json:"sessions"`
		TotalWorkedMinutes int           `json:"totalWorkedMinutes"`
		TotalIncome        Money         `json:"totalIncome"`
		IsWorkday          bool          `json:"isWorkday"`
	}

	// Finalized pins the figures computed at end-of-work so the displayed
	// value stops tracking the clock until the next work session starts.
	Finalized struct {
		Income        Money
		WorkedMinutes int
	}

	// DailyRecord is the persisted shape of a day. The two underscored
	// fields carry the frozen end-of-work figures and must keep their
	// names to round-trip records written by earlier versions.
	DailyRecord struct {
		Date               string        `json:"date"`
		Sessions           []WorkSession `json:"sessions"`
		TotalWorkedMinutes int           `json:"totalWorkedMinutes"`
		TotalIncome        Money         `json:"totalIncome"`
		IsWorkday          bool          `json:"isWorkday"`
		FinalIncome        *Money        `json:"_finalIncome,omitempty"`
		FinalWorkedMinutes *int          `json:"_finalWorkedMinutes,omitempty"`
	}
)

// Open reports whether the session has no end time yet.
func (s WorkSession) Open() bool {
	return s.EndTime == nil
}

// Clone returns a deep copy; callers outside the engine only ever see copies.
func (d DailyData) Clone() DailyData {
	out := d
	out.Sessions = make([]WorkSession, len(d.Sessions))
	copy(out.Sessions, d.Sessions)
	return out
}

// NewDailyData builds an empty aggregate for the given day.
func NewDailyData(date string, isWorkday bool) DailyData {
	return DailyData{
		Date:      date,
		Sessions:  []WorkSession{},
		IsWorkday: isWorkday,
	}
}

// Record converts the live aggregate plus an optional frozen result into
// the persisted shape.
func (d DailyData) Record(frozen *Finalized) DailyRecord {
	rec := DailyRecord{
		Date:               d.Date,
		Sessions:           append([]WorkSession(nil), d.Sessions...),
		TotalWorkedMinutes: d.TotalWorkedMinutes,
		TotalIncome:        d.TotalIncome,
		IsWorkday:          d.IsWorkday,
	}
	if frozen != nil {
		income := frozen.Income
		minutes := frozen.WorkedMinutes
		rec.FinalIncome = &income
		rec.FinalWorkedMinutes = &minutes
	}
	return rec
}

// Data converts a persisted record back into a live aggregate, scrubbing
// sessions that lost their date or start time along the way.
func (r DailyRecord) Data() DailyData {
	sessions := make([]WorkSession, 0, len(r.Sessions))
	for _, s := range r.Sessions {
		if s.Date == "" || s.StartTime.IsZero() {
			continue
		}
		sessions = append(sessions, s)
	}
	return DailyData{
		Date:               r.Date,
		Sessions:           sessions,
		TotalWorkedMinutes: r.TotalWorkedMinutes,
		TotalIncome:        r.TotalIncome,
		IsWorkday:          r.IsWorkday,
	}
}

// Frozen returns the finalized figures stored in the record, if both are present.
func (r DailyRecord) Frozen() *Finalized {
	if r.FinalIncome == nil || r.FinalWorkedMinutes == nil {
		return nil
	}
	return &Finalized{Income: *r.FinalIncome, WorkedMinutes: *r.FinalWorkedMinutes}
}
