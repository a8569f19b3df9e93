package pace

import (
	"time"

	"incomed/internal/log"
)

// Runner drives a callback on a repeating timer whose interval follows
// the pacer. When the target interval changes (adaptive mode flipping
// between active and idle, or a settings change), the timer is rebuilt
// with the new interval instead of running on at the stale rate.
type Runner struct {
	pacer  *Pacer
	fn     func()
	log    *log.Logger
	kickCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewRunner(pacer *Pacer, logger *log.Logger, fn func()) *Runner {
	return &Runner{
		pacer:  pacer,
		fn:     fn,
		log:    logger,
		kickCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the tick loop. A tick that panics is logged and must not
// kill the loop.
func (r *Runner) Start() {
	go r.run()
}

// Stop tears the timer down synchronously; no ticks fire after it returns.
func (r *Runner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// Rebuild makes the loop re-read the pacer and restart the timer with
// the current interval, instead of letting a pending timer run out at
// the stale rate. Signals coalesce; safe to call from any goroutine.
func (r *Runner) Rebuild() {
	select {
	case r.kickCh <- struct{}{}:
	default:
	}
}

func (r *Runner) run() {
	defer close(r.doneCh)

	interval := r.pacer.Interval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.kickCh:
			if !timer.Stop() {
				<-timer.C
			}
			interval = r.pacer.Interval()
			r.log.Debug("tick timer rebuilt", log.FieldInterval, interval.String())
			timer.Reset(interval)
		case <-timer.C:
			r.tick()
			next := r.pacer.Interval()
			if next != interval {
				r.log.Debug("tick interval changed", log.FieldInterval, next.String())
				interval = next
			}
			timer.Reset(interval)
		}
	}
}

func (r *Runner) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tick panicked", log.FieldError, rec)
		}
	}()
	r.fn()
}
