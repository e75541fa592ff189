// Package clock supplies the formatted wall-clock text shown on the
// display and the boot-time barrier that waits for time to be valid.
package clock

import (
	"context"
	"log/slog"
	"time"
)

// Source hands out wall-clock state. Synchronized must be cheap; it is
// polled in a loop at boot.
type Source interface {
	Synchronized() bool
	// FormattedTime returns the current time as "HH:MM:SS".
	FormattedTime() string
}

// minValidYear guards against an unset system clock reporting the
// epoch. Anything before it counts as not yet synchronized.
const minValidYear = 2020

// SystemSource reads the operating system clock.
type SystemSource struct {
	now func() time.Time
}

func NewSystemSource() *SystemSource {
	return &SystemSource{now: time.Now}
}

func (s *SystemSource) Synchronized() bool {
	return s.now().Year() >= minValidYear
}

func (s *SystemSource) FormattedTime() string {
	return s.now().Format("15:04:05")
}

// WaitSync blocks until src reports a synchronized clock, polling at
// the given interval. Only meant as a one-time startup barrier.
func WaitSync(ctx context.Context, src Source, every time.Duration, log *slog.Logger) error {
	if src.Synchronized() {
		return nil
	}
	log.Info("waiting for wall clock sync")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
		if src.Synchronized() {
			log.Info("wall clock synchronized", "time", src.FormattedTime())
			return nil
		}
	}
}
