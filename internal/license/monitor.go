package license

import (
	"context"
	"log/slog"
	"time"
)

// Monitor periodically re-validates the license in the background. It is
// owned by the composition root and stopped explicitly at shutdown; there is
// no package-level singleton.
type Monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartMonitor begins periodic license pings. Failures are logged and never
// propagate to request handling.
func StartMonitor(gate *Gate, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(m.done)

		// Validate once at startup so a stale cache does not wait a full
		// interval
		err := gate.Refresh(ctx)
		if err != nil {
			slog.Error("initial license refresh failed", "error", err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := gate.Refresh(ctx)
				if err != nil {
					slog.Error("license refresh failed", "error", err)
				}
			}
		}
	}()

	return m
}

// Stop cancels the monitor and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
}
