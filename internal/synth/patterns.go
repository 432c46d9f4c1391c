package synth

import (
	"image/color"

	"github.com/pkg/errors"

	"github.com/lanikai/cmvision/internal/capture"
)

// A pattern returns the YCbCr value of the pixel at (x, y) in a frame of the
// given size.
type pattern func(x, y, width, height int) (yy, cb, cr uint8)

var patterns = map[string]pattern{
	"bars": bars,
	"gray": gray,
	"ramp": ramp,
}

// SMPTE-style bars, left to right.
var barColors = []color.RGBA{
	{255, 255, 255, 255}, // white
	{255, 255, 0, 255},   // yellow
	{0, 255, 255, 255},   // cyan
	{0, 255, 0, 255},     // green
	{255, 0, 255, 255},   // magenta
	{255, 0, 0, 255},     // red
	{0, 0, 255, 255},     // blue
	{0, 0, 0, 255},       // black
}

func bars(x, y, width, height int) (uint8, uint8, uint8) {
	c := barColors[x*len(barColors)/width]
	return color.RGBToYCbCr(c.R, c.G, c.B)
}

// gray is mid-level luma with neutral chroma.
func gray(x, y, width, height int) (uint8, uint8, uint8) {
	return 128, 128, 128
}

// ramp is a horizontal luma gradient from black to white.
func ramp(x, y, width, height int) (uint8, uint8, uint8) {
	if width < 2 {
		return 0, 128, 128
	}
	return uint8(x * 255 / (width - 1)), 128, 128
}

func lookupPattern(name string) (pattern, error) {
	if name == "" {
		name = "bars"
	}
	p, ok := patterns[name]
	if !ok {
		return nil, errors.Wrapf(capture.ErrDevice, "unknown test pattern %q", name)
	}
	return p, nil
}

// render draws one frame of p into buf using format f. brightness is added
// to luma; hflip and vflip mirror the image.
func render(buf []byte, f capture.Format, p pattern, brightness int, hflip, vflip bool) {
	w, h := f.Width, f.Height
	at := func(x, y int) (uint8, uint8, uint8) {
		if hflip {
			x = w - 1 - x
		}
		if vflip {
			y = h - 1 - y
		}
		yy, cb, cr := p(x, y, w, h)
		return clamp(int(yy) + brightness), cb, cr
	}

	for y := 0; y < h; y++ {
		row := buf[y*f.Stride:]
		switch f.PixelFormat {
		case capture.PixelFormatGrey:
			for x := 0; x < w; x++ {
				row[x], _, _ = at(x, y)
			}

		case capture.PixelFormatYUYV:
			for x := 0; x+1 < w; x += 2 {
				y0, cb, cr := at(x, y)
				y1, _, _ := at(x+1, y)
				row[2*x+0] = y0
				row[2*x+1] = cb
				row[2*x+2] = y1
				row[2*x+3] = cr
			}

		case capture.PixelFormatUYVY:
			for x := 0; x+1 < w; x += 2 {
				y0, cb, cr := at(x, y)
				y1, _, _ := at(x+1, y)
				row[2*x+0] = cb
				row[2*x+1] = y0
				row[2*x+2] = cr
				row[2*x+3] = y1
			}
		}
	}
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
