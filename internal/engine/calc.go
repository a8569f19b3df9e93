package engine

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"incomed/internal/core"
	"incomed/internal/settings"
)

// figures is one recomputation result: the day's worked minutes rounded
// to the nearest whole minute and the income rounded to the cent.
type figures struct {
	Minutes int
	Income  core.Money
}

// computeFigures derives the day's worked time and income from the
// schedule window alone. dayRef picks which calendar day's window to
// evaluate (it differs from now only during a rollover).
func computeFigures(cfg settings.Settings, now, dayRef time.Time, isWorkday bool) figures {
	if !isWorkday {
		return figures{}
	}

	dailyTarget := cfg.MonthlyIncome.Decimal().Div(core.WorkDaysPerMonth(cfg.WorkDays))
	standard := core.StandardWorkMinutes(cfg.WorkStartTime, cfg.WorkEndTime)
	perMinute := dailyTarget.Div(decimal.NewFromInt(int64(standard)))
	start, end := core.WindowFor(dayRef, cfg.WorkStartTime, cfg.WorkEndTime)

	if now.Before(start) {
		return figures{}
	}

	if !now.After(end) {
		elapsed := now.Sub(start).Minutes()
		return figures{
			Minutes: int(math.Round(elapsed)),
			Income:  core.NewMoneyFromDecimal(decimal.NewFromFloat(elapsed).Mul(perMinute)),
		}
	}

	// Past the window end the day settles at the standard window's pay,
	// even while a session is still open: the schedule bounds the
	// figures, not the session.
	full := int(math.Round(end.Sub(start).Minutes()))
	overtime := full - standard
	if overtime < 0 {
		overtime = 0
	}
	income := decimal.NewFromInt(int64(standard)).Mul(perMinute)
	if cfg.OvertimeEnabled && overtime > 0 {
		income = income.Add(decimal.NewFromInt(int64(overtime)).Mul(perMinute).Mul(decimal.NewFromFloat(cfg.OvertimeRate)))
	}
	return figures{Minutes: standard, Income: core.NewMoneyFromDecimal(income)}
}
