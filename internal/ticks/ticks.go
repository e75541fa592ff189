// Package ticks provides a free-running millisecond counter with
// wraparound-safe elapsed-time arithmetic. The counter is 32 bits wide
// and rolls over roughly every 49.7 days; all duration checks must go
// through Elapsed or Due, which stay correct across the rollover, and
// never compare tick values directly.
package ticks

import "time"

var origin = time.Now()

// Now returns the milliseconds elapsed since process start, truncated
// to 32 bits.
func Now() uint32 {
	return uint32(time.Since(origin).Milliseconds())
}

// Elapsed returns the milliseconds between two tick snapshots. The
// unsigned subtraction keeps the result correct when the counter has
// wrapped between since and now.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// Due reports whether at least interval milliseconds have passed since
// the given snapshot.
func Due(now, since, interval uint32) bool {
	return Elapsed(now, since) >= interval
}
