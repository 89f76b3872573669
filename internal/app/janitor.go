package app

import (
	"log/slog"
	"time"
)

// janitor runs the periodic sweeps: expired sessions, stale tokens, used-up
// one-time codes, and idle rate-limit entries.
type janitor struct {
	app  *App
	stop chan struct{}
	done chan struct{}
}

func startJanitor(app *App, interval time.Duration) *janitor {
	j := &janitor{
		app:  app,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go j.run(interval)
	return j
}

func (j *janitor) run(interval time.Duration) {
	defer close(j.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *janitor) sweep() {
	if _, err := j.app.Sessions.SweepExpired(); err != nil {
		slog.Error("session sweep failed", "error", err)
	}
	if _, err := j.app.TokenService.CleanupExpired(); err != nil {
		slog.Error("token cleanup failed", "error", err)
	}
	if _, err := j.app.MFAService.PurgeExpiredOTPs(); err != nil {
		slog.Error("otp purge failed", "error", err)
	}
	if _, err := j.app.RateLimiter.CleanupExpired(); err != nil {
		slog.Error("rate limit cleanup failed", "error", err)
	}
}

func (j *janitor) Stop() {
	close(j.stop)
	<-j.done
}
