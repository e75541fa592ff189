// Package oled renders compositor frames on an SSD1306 panel.
package oled

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"co2mon/internal/display"
)

// Panel drives a 128x64 SSD1306 over I²C. Drawing happens on an
// in-memory frame buffer; Flush pushes the whole buffer to the panel.
type Panel struct {
	dev *ssd1306.Dev
	img *image1bit.VerticalLSB
}

func New(bus i2c.Bus) (*Panel, error) {
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("oled: %w", err)
	}
	return &Panel{dev: dev, img: image1bit.NewVerticalLSB(dev.Bounds())}, nil
}

func (p *Panel) Clear() {
	p.img = image1bit.NewVerticalLSB(p.dev.Bounds())
}

func (p *Panel) DrawText(x, y int, s string, inverted bool) {
	face := basicfont.Face7x13
	fg := image1bit.On
	if inverted {
		fg = image1bit.Off
		for py := y; py < y+face.Height; py++ {
			for px := x; px < x+len(s)*face.Advance; px++ {
				p.img.SetBit(px, py, image1bit.On)
			}
		}
	}
	d := font.Drawer{
		Dst:  p.img,
		Src:  &image.Uniform{C: fg},
		Face: face,
		Dot:  fixed.P(x, y+face.Ascent),
	}
	d.DrawString(s)
}

func (p *Panel) DrawLine(x0, y0, x1, y1 int) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		p.img.SetBit(x0, y0, image1bit.On)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func (p *Panel) DrawBitmap(x, y int, bm display.Bitmap) {
	for r := 0; r < bm.H; r++ {
		row := bm.Bits[r]
		for c := 0; c < bm.W; c++ {
			if row&(0x80>>c) != 0 {
				p.img.SetBit(x+c, y+r, image1bit.On)
			}
		}
	}
}

func (p *Panel) Flush() error {
	if err := p.dev.Draw(p.dev.Bounds(), p.img, image.Point{}); err != nil {
		return fmt.Errorf("oled: flush: %w", err)
	}
	return nil
}

// Halt blanks the panel. Call on shutdown.
func (p *Panel) Halt() error {
	return p.dev.Halt()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var _ display.Driver = (*Panel)(nil)
