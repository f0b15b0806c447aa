package channel

import (
	"context"
	"log/slog"
	"time"
)

// StartReaper runs a background goroutine that closes rooms which have had no
// participants for longer than emptyTimeout. It stops when ctx is done.
func StartReaper(ctx context.Context, hub *Hub, interval, emptyTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Room reaper started", "interval", interval, "empty_timeout", emptyTimeout)

		for {
			select {
			case now := <-ticker.C:
				reapEmptyRooms(hub, emptyTimeout, now)
			case <-ctx.Done():
				slog.Info("Room reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reapEmptyRooms(hub *Hub, emptyTimeout time.Duration, now time.Time) int {
	reaped := 0
	for _, name := range hub.Names() {
		room, err := hub.Get(name)
		if err != nil {
			continue
		}
		idle := room.emptyFor(now)
		if idle < emptyTimeout {
			continue
		}
		slog.Info("Reaping empty room", "room", name, "empty_for", idle.Round(time.Second))
		if err := hub.Close(name, "empty timeout"); err != nil {
			slog.Debug("Room already gone", "room", name, "error", err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		slog.Info("Room reaper cleanup completed", "reaped", reaped)
	}
	return reaped
}
