// Package oled drives an SSD1306 OLED panel over I²C as the wearable's
// transcript display.
//
// Rendering is double-buffered: ShowText lays glyphs into an in-memory 1-bit
// image and Update pushes the whole buffer to the panel in one transfer, so
// the display loop performs exactly one bus write per refresh.
package oled

import (
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/earshotlabs/earshot/pkg/device"
)

// Config selects the bus and panel geometry.
type Config struct {
	// Bus is the I²C bus name; "" opens the first available bus.
	Bus string

	// Width and Height override the panel size. Zero values keep the
	// ssd1306 defaults (128×64).
	Width  int
	Height int

	// Rotated flips the panel 180° for upside-down mounting.
	Rotated bool
}

// Display is an SSD1306-backed transcript display. It is owned by the
// display loop; methods are not safe for concurrent use.
type Display struct {
	bus  i2c.BusCloser
	dev  *ssd1306.Dev
	img  *image1bit.VerticalLSB
	face *basicfont.Face

	cols  int
	rows  int
	dirty bool
}

var _ device.Display = (*Display)(nil)

// Open initializes the host drivers, opens the I²C bus, and brings up the
// panel. The line grid is derived from the panel bounds and the font
// metrics rather than assumed.
func Open(cfg Config) (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("oled: initialize host drivers: %w", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("oled: open i2c bus %q: %w", cfg.Bus, err)
	}

	opts := ssd1306.DefaultOpts
	if cfg.Width > 0 {
		opts.W = cfg.Width
	}
	if cfg.Height > 0 {
		opts.H = cfg.Height
	}
	opts.Rotated = cfg.Rotated

	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("oled: initialize panel: %w", err)
	}

	face := basicfont.Face7x13
	bounds := dev.Bounds()
	d := &Display{
		bus:  bus,
		dev:  dev,
		img:  image1bit.NewVerticalLSB(bounds),
		face: face,
		cols: bounds.Dx() / face.Advance,
		rows: bounds.Dy() / face.Height,
	}
	d.Clear()
	return d, nil
}

// Clear empties the drawing buffer.
func (d *Display) Clear() {
	for i := range d.img.Pix {
		d.img.Pix[i] = 0
	}
	d.dirty = true
}

// ShowText word-wraps text into the buffer. When the text needs more lines
// than the panel has, the newest lines win — the wearer cares about what was
// just said.
func (d *Display) ShowText(text string) {
	lines := wrapLines(text, d.cols)
	if len(lines) > d.rows {
		lines = lines[len(lines)-d.rows:]
	}
	for i, line := range lines {
		drawer := font.Drawer{
			Dst:  d.img,
			Src:  &image.Uniform{C: image1bit.On},
			Face: d.face,
			Dot:  fixed.P(0, i*d.face.Height+d.face.Ascent),
		}
		drawer.DrawString(line)
	}
	d.dirty = true
}

// Update transfers the buffer to the panel. A clean buffer is a no-op.
func (d *Display) Update() error {
	if !d.dirty {
		return nil
	}
	if err := d.dev.Draw(d.dev.Bounds(), d.img, image.Point{}); err != nil {
		return fmt.Errorf("oled: draw: %w", err)
	}
	d.dirty = false
	return nil
}

// SetContrast adjusts the panel brightness; low values stretch battery life.
func (d *Display) SetContrast(level byte) error { return d.dev.SetContrast(level) }

// Invert switches between white-on-black and black-on-white rendering.
func (d *Display) Invert(on bool) error { return d.dev.Invert(on) }

// Close blanks the panel and releases the bus.
func (d *Display) Close() error {
	err := d.dev.Halt()
	if cerr := d.bus.Close(); err == nil {
		err = cerr
	}
	return err
}

// wrapLines greedily word-wraps text to at most cols characters per line.
// Words longer than a line are hard-split.
func wrapLines(text string, cols int) []string {
	if cols <= 0 {
		return nil
	}
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		for len(word) > cols {
			if line.Len() > 0 {
				lines = append(lines, line.String())
				line.Reset()
			}
			lines = append(lines, word[:cols])
			word = word[cols:]
		}
		if word == "" {
			continue
		}
		switch {
		case line.Len() == 0:
			line.WriteString(word)
		case line.Len()+1+len(word) <= cols:
			line.WriteByte(' ')
			line.WriteString(word)
		default:
			lines = append(lines, line.String())
			line.Reset()
			line.WriteString(word)
		}
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
