// Package display decides what the status screen shows and when it is
// redrawn. How pixels are set belongs to the Driver implementations.
package display

import (
	"fmt"
	"log/slog"

	"co2mon/internal/broker"
	"co2mon/internal/sensor"
)

// Driver is the frame-buffer collaborator the compositor draws on.
type Driver interface {
	Clear()
	DrawText(x, y int, s string, inverted bool)
	DrawLine(x0, y0, x1, y1 int)
	DrawBitmap(x, y int, bm Bitmap)
	// Flush pushes the composed frame to the panel.
	Flush() error
}

// Bitmap is a small monochrome glyph, one byte per row, MSB leftmost.
type Bitmap struct {
	W, H int
	Bits []byte
}

// Frame is everything one redraw shows. Now carries the tick counter
// value at redraw time; it drives the offline glyph's blink phase.
type Frame struct {
	Clock       string
	NetUp       bool
	Broker      broker.State
	Reading     sensor.Snapshot
	Calibrating bool
	Now         uint32
}

// Fixed 128x64 layout.
const (
	width  = 128
	height = 64

	headerY    = 0
	separatorY = 14
	co2Y       = 28
	readingsY  = 50

	glyphX = width - 8
	badgeX = width - 28
)

// Compositor tracks whether the screen is stale and repaints the full
// frame when it is. Owned by the scheduler; not goroutine-safe.
type Compositor struct {
	drv   Driver
	log   *slog.Logger
	dirty bool
}

func New(drv Driver, log *slog.Logger) *Compositor {
	return &Compositor{
		drv: drv,
		log: log.With("subsys", "display"),
		// The first frame always needs painting.
		dirty: true,
	}
}

// MarkDirty flags the screen as stale.
func (c *Compositor) MarkDirty() { c.dirty = true }

// Dirty reports whether a redraw is pending.
func (c *Compositor) Dirty() bool { return c.dirty }

// Redraw recomposes the whole frame and flushes it. A full repaint
// cannot leave stale regions behind. The dirty flag survives a failed
// flush so the next pass repaints.
func (c *Compositor) Redraw(f Frame) {
	c.drv.Clear()

	c.drv.DrawText(0, headerY, f.Clock, false)
	c.drawNetGlyph(f)
	c.drawBrokerBadge(f.Broker)
	c.drv.DrawLine(0, separatorY, width-1, separatorY)

	if f.Reading.Available {
		c.drv.DrawText(10, co2Y, fmt.Sprintf("CO2 %d ppm", f.Reading.CO2), false)
	} else {
		c.drv.DrawText(10, co2Y, "CO2 --- ppm", false)
	}

	switch {
	case f.Calibrating:
		c.drv.DrawText(0, readingsY, " CALIBRATION ", true)
	case f.Reading.Available:
		pct := int(f.Reading.Humidity + 0.5)
		c.drv.DrawText(0, readingsY, fmt.Sprintf("%.1f C  %d %%", f.Reading.Temperature, pct), false)
	default:
		c.drv.DrawText(0, readingsY, "--.- C  -- %", false)
	}

	if err := c.drv.Flush(); err != nil {
		c.log.Warn("flush failed", "error", err)
		return
	}
	c.dirty = false
}

// drawNetGlyph renders the link icon: solid bars while associated, a
// blinking cross while offline. The phase comes straight from the tick
// counter so it is independent of the clock-refresh cadence.
func (c *Compositor) drawNetGlyph(f Frame) {
	if f.NetUp {
		c.drv.DrawBitmap(glyphX, headerY, glyphNetUp)
		return
	}
	if f.Now%1000 < 500 {
		c.drv.DrawBitmap(glyphX, headerY, glyphNetDown)
	}
}

func (c *Compositor) drawBrokerBadge(s broker.State) {
	c.drv.DrawText(badgeX, headerY, "MQ", s == broker.StateConnected)
	if s == broker.StateDisconnected {
		c.drv.DrawLine(badgeX, headerY+6, badgeX+13, headerY+6)
	}
}

// glyphNetUp is an 8x8 rising signal bars icon.
var glyphNetUp = Bitmap{W: 8, H: 8, Bits: []byte{
	0b00000010,
	0b00000010,
	0b00001010,
	0b00001010,
	0b00101010,
	0b00101010,
	0b10101010,
	0b10101010,
}}

// glyphNetDown is an 8x8 cross.
var glyphNetDown = Bitmap{W: 8, H: 8, Bits: []byte{
	0b10000001,
	0b01000010,
	0b00100100,
	0b00011000,
	0b00011000,
	0b00100100,
	0b01000010,
	0b10000001,
}}
