// Package engine owns the work-session state machine and the live daily
// aggregate. It recomputes elapsed-time earnings on an adaptive tick,
// freezes the figures when a session ends, and archives the day at
// midnight rollover.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"incomed/internal/cache"
	"incomed/internal/core"
	"incomed/internal/events"
	"incomed/internal/log"
	"incomed/internal/metrics"
	"incomed/internal/pace"
	"incomed/internal/settings"
	"incomed/internal/storage"
)

// calcTTL is how stale a cached recomputation may get before an idle
// read forces a fresh one. Reads during an open session always
// recompute.
const calcTTL = 2 * time.Second

// Engine is the income engine. All session and aggregate state is
// guarded by mu; everything outside the engine only ever sees copies.
type Engine struct {
	repo    *storage.Repository
	store   *settings.Store
	events  events.Publisher
	metrics *metrics.Metrics
	pacer   *pace.Pacer
	runner  *pace.Runner
	log     *log.Logger
	now     func() time.Time

	// history caches archived days, which are immutable once written.
	history *cache.LRU[core.DailyData]

	mu       sync.Mutex
	cfg      settings.Settings
	daily    core.DailyData
	frozen   *core.Finalized
	lastCalc time.Time
	unsub    func()
}

func New(repo *storage.Repository, store *settings.Store, pub events.Publisher, m *metrics.Metrics, logger *log.Logger) *Engine {
	cfg := store.Snapshot()
	e := &Engine{
		repo:    repo,
		store:   store,
		events:  pub,
		metrics: m,
		log:     logger.WithComponent(log.ComponentEngine),
		now:     time.Now,
		cfg:     cfg,
		history: cache.NewLRU[core.DailyData](90, time.Hour),
	}
	e.pacer = pace.NewPacer(pace.PlanFrom(cfg.UpdateFrequency, cfg.CustomUpdateFreqMs))
	e.runner = pace.NewRunner(e.pacer, e.log, e.tick)
	return e
}

// Pacer exposes the engine's activity tracker so API handlers can feed
// it activity signals.
func (e *Engine) Pacer() *pace.Pacer {
	return e.pacer
}

// Start restores the persisted day, resumes an unfinished session if one
// was left open, subscribes to settings changes and begins ticking.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	now := e.now()
	today := now.Format(core.DateLayout)

	rec, err := e.repo.LoadDailyRecord(ctx)
	if err != nil {
		e.log.Warn("load daily record", log.FieldError, err)
	}
	if rec != nil {
		e.daily = rec.Data()
		e.frozen = rec.Frozen()
		if open := e.openSessionLocked(); open != nil {
			e.log.Info("resuming open work session",
				log.FieldSession, open.ID, log.FieldDate, open.Date)
		}
	} else {
		e.daily = core.NewDailyData(today, core.IsWorkday(e.cfg.WorkDays, now))
	}

	e.recomputeLocked(ctx)
	started := e.autoStartLocked(ctx)
	e.mu.Unlock()

	if started != nil {
		e.announceAutoStart(ctx, *started)
	}

	e.unsub = e.store.Subscribe(e.ApplySettings)
	e.runner.Start()
	e.log.Info("engine started", log.FieldDate, today)
	return nil
}

// Stop tears down the tick loop and the settings subscription.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	e.runner.Stop()
	e.log.Info("engine stopped")
}

// StartWork opens a new session. Returns ErrAlreadyWorking if one is
// already open.
func (e *Engine) StartWork(ctx context.Context) (core.WorkSession, error) {
	e.mu.Lock()
	e.recomputeLocked(ctx)
	if e.openSessionLocked() != nil {
		e.mu.Unlock()
		return core.WorkSession{}, core.ErrAlreadyWorking
	}
	s := e.openNewSessionLocked(ctx)
	e.mu.Unlock()

	e.pacer.Touch()
	e.events.Publish(ctx, events.WorkStarted(s.ID, s.Date, s.StartTime))
	e.log.Info("work started", log.FieldSession, s.ID)
	return s, nil
}

// EndWork closes the open session and freezes the figures computed at
// that instant. Returns ErrNotWorking when no session is open. The open
// session is always resolved, even if persistence fails along the way.
func (e *Engine) EndWork(ctx context.Context) (core.Finalized, error) {
	e.mu.Lock()
	e.recomputeLocked(ctx)
	open := e.openSessionLocked()
	if open == nil {
		e.mu.Unlock()
		return core.Finalized{}, core.ErrNotWorking
	}

	end := e.now()
	open.EndTime = &end
	sessionID, date := open.ID, open.Date

	// The final figures are computed as of the closing instant; past the
	// window end they settle at the standard window's pay.
	e.daily.IsWorkday = core.IsWorkday(e.cfg.WorkDays, end)
	f := computeFigures(e.cfg, end, end, e.daily.IsWorkday)
	e.daily.TotalWorkedMinutes = f.Minutes
	e.daily.TotalIncome = f.Income
	e.lastCalc = end
	e.metrics.IncomeCents.Set(float64(f.Income.Cents))
	e.metrics.WorkedMinutes.Set(float64(f.Minutes))

	frozen := core.Finalized{Income: f.Income, WorkedMinutes: f.Minutes}
	e.frozen = &frozen
	e.persistLocked(ctx)
	e.mu.Unlock()

	e.pacer.Touch()
	e.events.Publish(ctx, events.WorkEnded(sessionID, date, frozen.Income.Cents, frozen.WorkedMinutes))
	e.log.Info("work ended",
		log.FieldSession, sessionID,
		log.FieldMinutes, frozen.WorkedMinutes,
		log.FieldIncome, frozen.Income.Amount())
	return frozen, nil
}

// ResetToday discards the live day's sessions and frozen figures and
// starts the current date over from zero.
func (e *Engine) ResetToday(ctx context.Context) error {
	e.mu.Lock()
	now := e.now()
	date := now.Format(core.DateLayout)
	e.daily = core.NewDailyData(date, core.IsWorkday(e.cfg.WorkDays, now))
	e.frozen = nil
	e.lastCalc = time.Time{}
	e.persistLocked(ctx)
	e.mu.Unlock()

	e.log.Info("day reset", log.FieldDate, date)
	return nil
}

// CurrentIncome returns the day's income: the frozen figure after an
// end-of-work, otherwise a value at most calcTTL stale.
func (e *Engine) CurrentIncome() core.Money {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openSessionLocked() == nil && e.frozen != nil {
		return e.frozen.Income
	}
	e.recomputeLocked(context.Background())
	return e.daily.TotalIncome
}

// TodayWorkedMinutes returns the day's worked minutes under the same
// freshness contract as CurrentIncome.
func (e *Engine) TodayWorkedMinutes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openSessionLocked() == nil && e.frozen != nil {
		return e.frozen.WorkedMinutes
	}
	e.recomputeLocked(context.Background())
	return e.daily.TotalWorkedMinutes
}

// IsWorking reports whether a session is currently open.
func (e *Engine) IsWorking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openSessionLocked() != nil
}

// DailyData recomputes and returns a copy of the live aggregate.
func (e *Engine) DailyData() core.DailyData {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastCalc = time.Time{}
	e.recomputeLocked(context.Background())
	return e.daily.Clone()
}

// HistoryData returns a copy of an archived day, or nil when that date
// was never archived.
func (e *Engine) HistoryData(ctx context.Context, date string) (*core.DailyData, error) {
	if d, ok := e.history.Get(date); ok {
		d = d.Clone()
		return &d, nil
	}
	rec, err := e.repo.LoadHistoryRecord(ctx, date)
	if err != nil || rec == nil {
		return nil, err
	}
	d := rec.Data()
	e.history.Set(date, d.Clone())
	return &d, nil
}

// ApplySettings installs a new settings snapshot: re-derives the tick
// plan and the workday flag, forces a recompute and re-evaluates
// auto-start. Runs on every settings-store notification.
func (e *Engine) ApplySettings(cfg settings.Settings) {
	e.pacer.SetPlan(pace.PlanFrom(cfg.UpdateFrequency, cfg.CustomUpdateFreqMs))
	e.runner.Rebuild()
	e.metrics.TickInterval.Set(e.pacer.Interval().Seconds())

	ctx := context.Background()
	e.mu.Lock()
	e.cfg = cfg
	e.lastCalc = time.Time{}
	e.recomputeLocked(ctx)
	started := e.autoStartLocked(ctx)
	e.mu.Unlock()

	if started != nil {
		e.announceAutoStart(ctx, *started)
	}
}

func (e *Engine) tick() {
	e.metrics.TickInterval.Set(e.pacer.Interval().Seconds())

	ctx := context.Background()
	e.mu.Lock()
	e.lastCalc = time.Time{}
	e.recomputeLocked(ctx)
	started := e.autoStartLocked(ctx)
	e.mu.Unlock()

	if started != nil {
		e.announceAutoStart(ctx, *started)
	}
}

// openSessionLocked returns a pointer into the live session list, or nil
// when no session is open.
func (e *Engine) openSessionLocked() *core.WorkSession {
	for i := range e.daily.Sessions {
		if e.daily.Sessions[i].Open() {
			return &e.daily.Sessions[i]
		}
	}
	return nil
}

// openNewSessionLocked appends a fresh session for "now", clears any
// frozen figures and persists.
func (e *Engine) openNewSessionLocked(ctx context.Context) core.WorkSession {
	now := e.now()
	s := core.WorkSession{
		ID:        uuid.NewString(),
		StartTime: now,
		Date:      now.Format(core.DateLayout),
	}
	e.frozen = nil
	e.daily.Sessions = append(e.daily.Sessions, s)
	e.lastCalc = time.Time{}
	e.recomputeLocked(ctx)
	e.persistLocked(ctx)
	return s
}

// autoStartLocked opens a session implicitly when auto-start is on, no
// session is open, nothing is frozen from an explicit end-of-work, and
// "now" sits inside today's work window. Returns the opened session.
func (e *Engine) autoStartLocked(ctx context.Context) *core.WorkSession {
	if !e.cfg.AutoStartWork || e.frozen != nil || e.openSessionLocked() != nil {
		return nil
	}
	now := e.now()
	if !core.IsWorkday(e.cfg.WorkDays, now) {
		return nil
	}
	start, end := core.WindowFor(now, e.cfg.WorkStartTime, e.cfg.WorkEndTime)
	if now.Before(start) || now.After(end) {
		return nil
	}
	s := e.openNewSessionLocked(ctx)
	return &s
}

func (e *Engine) announceAutoStart(ctx context.Context, s core.WorkSession) {
	e.events.Publish(ctx, events.WorkStarted(s.ID, s.Date, s.StartTime))
	e.events.Notify(ctx, events.LevelInfo, "work started automatically per schedule")
	e.log.Info("work auto-started", log.FieldSession, s.ID)
}

// recomputeLocked is the core contract: roll the day over if the date
// moved on, serve frozen figures verbatim while stopped, otherwise
// rebuild minutes and income from the schedule window.
func (e *Engine) recomputeLocked(ctx context.Context) {
	now := e.now()
	today := now.Format(core.DateLayout)
	if e.daily.Date != "" && e.daily.Date != today {
		e.rolloverLocked(ctx, now, today)
	}
	if e.daily.Date == "" {
		e.daily = core.NewDailyData(today, core.IsWorkday(e.cfg.WorkDays, now))
	}

	// The TTL cache only covers idle reads: while a session is open every
	// read recomputes so the figures track the clock.
	working := e.openSessionLocked() != nil
	if !working && !e.lastCalc.IsZero() && now.Sub(e.lastCalc) < calcTTL {
		return
	}
	e.metrics.RecomputeTotal.Inc()

	if !working && e.frozen != nil {
		e.daily.TotalIncome = e.frozen.Income
		e.daily.TotalWorkedMinutes = e.frozen.WorkedMinutes
		e.lastCalc = now
		return
	}

	e.daily.IsWorkday = core.IsWorkday(e.cfg.WorkDays, now)
	f := computeFigures(e.cfg, now, now, e.daily.IsWorkday)
	e.daily.TotalWorkedMinutes = f.Minutes
	e.daily.TotalIncome = f.Income
	e.lastCalc = now

	e.metrics.IncomeCents.Set(float64(f.Income.Cents))
	e.metrics.WorkedMinutes.Set(float64(f.Minutes))
}

// rolloverLocked archives the live day under its old date and starts a
// fresh one. A session spanning midnight is closed into the old day
// first, with the rollover instant as its end time.
func (e *Engine) rolloverLocked(ctx context.Context, now time.Time, today string) {
	old := e.daily
	oldDate := old.Date

	frozen := e.frozen
	if open := e.openSessionLocked(); open != nil {
		end := now
		open.EndTime = &end
		if ref, err := time.ParseInLocation(core.DateLayout, oldDate, now.Location()); err == nil {
			f := computeFigures(e.cfg, now, ref, old.IsWorkday)
			old.TotalWorkedMinutes = f.Minutes
			old.TotalIncome = f.Income
			frozen = &core.Finalized{Income: f.Income, WorkedMinutes: f.Minutes}
		}
	}

	if err := e.repo.SaveHistoryRecord(ctx, old.Record(frozen)); err != nil {
		e.log.Warn("archive day", log.FieldDate, oldDate, log.FieldError, err)
	}
	e.history.Set(oldDate, old.Clone())

	e.daily = core.NewDailyData(today, core.IsWorkday(e.cfg.WorkDays, now))
	e.frozen = nil
	e.lastCalc = time.Time{}
	e.persistLocked(ctx)

	e.events.Publish(ctx, events.DayRollover(oldDate, today))
	e.log.Info("day rolled over", log.FieldDate, today)
}

// persistLocked writes the live record. Failures are logged, never
// surfaced; the next successful write supersedes.
func (e *Engine) persistLocked(ctx context.Context) {
	if err := e.repo.SaveDailyRecord(ctx, e.daily.Record(e.frozen)); err != nil {
		e.log.Warn("persist daily record", log.FieldError, err)
	}
}
