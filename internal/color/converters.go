// Copyright 2019 Lanikai Labs. All rights reserved.

package color

import (
	stdcolor "image/color"
	"time"

	"golang.org/x/xerrors"

	"github.com/lanikai/cmvision/internal/capture"
)

// Frame is a converted frame. Unlike a capture.RawFrame it owns its pixels.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
	Format Format

	Sequence  uint32
	Timestamp time.Duration
}

// Convert converts raw into a newly allocated frame in the target format.
func Convert(raw *capture.RawFrame, target Format) (*Frame, error) {
	dst := new(Frame)
	if err := ConvertInto(dst, raw, target); err != nil {
		return nil, err
	}
	return dst, nil
}

// ConvertInto converts raw into dst, reusing dst.Pix when it is large
// enough. The output depends only on the input: converting the same frame
// twice yields identical bytes.
//
// YCbCr to RGB uses the full-range BT.601 transform of image/color.
func ConvertInto(dst *Frame, raw *capture.RawFrame, target Format) error {
	if raw == nil {
		return xerrors.Errorf("convert: nil frame: %w", capture.ErrInvalidFrame)
	}
	if target.BytesPerPixel() == 0 {
		return xerrors.Errorf("convert to %v: %w", target, capture.ErrUnsupportedFormat)
	}
	row, inStride, err := check(raw)
	if err != nil {
		return err
	}

	var conv func(out, in []byte, width int)
	switch raw.Format {
	case capture.PixelFormatYUYV:
		conv = fromYUYV[target]
	case capture.PixelFormatUYVY:
		conv = fromUYVY[target]
	case capture.PixelFormatGrey:
		conv = fromGrey[target]
	}
	if conv == nil {
		return xerrors.Errorf("convert %v to %v: %w", raw.Format, target, capture.ErrUnsupportedFormat)
	}

	w, h := raw.Width, raw.Height
	stride := w * target.BytesPerPixel()
	n := stride * h
	if cap(dst.Pix) >= n {
		dst.Pix = dst.Pix[:n]
	} else {
		dst.Pix = make([]byte, n)
	}
	dst.Width = w
	dst.Height = h
	dst.Stride = stride
	dst.Format = target
	dst.Sequence = raw.Sequence
	dst.Timestamp = raw.Timestamp

	for y := 0; y < h; y++ {
		in := raw.Data[y*inStride : y*inStride+row]
		conv(dst.Pix[y*stride:(y+1)*stride], in, w)
	}
	return nil
}

// check validates the geometry of raw and returns the length of one packed
// input row and the input stride.
func check(raw *capture.RawFrame) (row, stride int, err error) {
	bpp := raw.Format.BytesPerPixel()
	if bpp == 0 {
		return 0, 0, xerrors.Errorf("native format %v: %w", raw.Format, capture.ErrUnsupportedFormat)
	}
	if raw.Width <= 0 || raw.Height <= 0 {
		return 0, 0, xerrors.Errorf("frame size %dx%d: %w", raw.Width, raw.Height, capture.ErrInvalidFrame)
	}
	if bpp == 2 && raw.Width%2 != 0 {
		return 0, 0, xerrors.Errorf("%v frame width %d is odd: %w", raw.Format, raw.Width, capture.ErrInvalidFrame)
	}

	row = raw.Width * bpp
	stride = raw.Stride
	if stride == 0 {
		stride = row
	}
	if stride < row {
		return 0, 0, xerrors.Errorf("stride %d shorter than row of %d bytes: %w", stride, row, capture.ErrInvalidFrame)
	}
	if need := stride*(raw.Height-1) + row; len(raw.Data) < need {
		return 0, 0, xerrors.Errorf("%v frame %dx%d needs %d bytes, got %d: %w",
			raw.Format, raw.Width, raw.Height, need, len(raw.Data), capture.ErrInvalidFrame)
	}
	return row, stride, nil
}

// Row converters, keyed by target. Each converts one row of width pixels.
var (
	fromYUYV = map[Format]func(out, in []byte, width int){
		BGR:  func(out, in []byte, w int) { packed422ToRGB(out, in, w, 0, 1, 2, 3, true) },
		RGB:  func(out, in []byte, w int) { packed422ToRGB(out, in, w, 0, 1, 2, 3, false) },
		Gray: func(out, in []byte, w int) { packed422ToGray(out, in, w, 0) },
		YUV:  func(out, in []byte, w int) { packed422ToYUV(out, in, w, 0, 1, 2, 3) },
		YUYV: func(out, in []byte, w int) { copy(out, in) },
	}

	fromUYVY = map[Format]func(out, in []byte, width int){
		BGR:  func(out, in []byte, w int) { packed422ToRGB(out, in, w, 1, 0, 3, 2, true) },
		RGB:  func(out, in []byte, w int) { packed422ToRGB(out, in, w, 1, 0, 3, 2, false) },
		Gray: func(out, in []byte, w int) { packed422ToGray(out, in, w, 1) },
		YUV:  func(out, in []byte, w int) { packed422ToYUV(out, in, w, 1, 0, 3, 2) },
		YUYV: uyvyToYUYV,
	}

	fromGrey = map[Format]func(out, in []byte, width int){
		BGR:  greyToRGB,
		RGB:  greyToRGB,
		Gray: func(out, in []byte, w int) { copy(out, in) },
		YUV:  greyToYUV,
	}
)

// packed422ToRGB converts a row of 4:2:2 pixel pairs. y0, u, y1 and v are the
// byte offsets of each component within a 4-byte pair.
func packed422ToRGB(out, in []byte, w int, y0, u, y1, v int, bgr bool) {
	for x := 0; x < w; x += 2 {
		p := in[2*x : 2*x+4]
		o := out[3*x : 3*x+6]
		r0, g0, b0 := stdcolor.YCbCrToRGB(p[y0], p[u], p[v])
		r1, g1, b1 := stdcolor.YCbCrToRGB(p[y1], p[u], p[v])
		if bgr {
			r0, b0 = b0, r0
			r1, b1 = b1, r1
		}
		o[0], o[1], o[2] = r0, g0, b0
		o[3], o[4], o[5] = r1, g1, b1
	}
}

func packed422ToGray(out, in []byte, w int, y0 int) {
	for x := 0; x < w; x++ {
		out[x] = in[2*x+y0]
	}
}

func packed422ToYUV(out, in []byte, w int, y0, u, y1, v int) {
	for x := 0; x < w; x += 2 {
		p := in[2*x : 2*x+4]
		o := out[3*x : 3*x+6]
		o[0], o[1], o[2] = p[y0], p[u], p[v]
		o[3], o[4], o[5] = p[y1], p[u], p[v]
	}
}

func uyvyToYUYV(out, in []byte, w int) {
	for i := 0; i+1 < 2*w; i += 2 {
		out[i], out[i+1] = in[i+1], in[i]
	}
}

// Gray maps to identical channels in both RGB and BGR.
func greyToRGB(out, in []byte, w int) {
	for x := 0; x < w; x++ {
		out[3*x], out[3*x+1], out[3*x+2] = in[x], in[x], in[x]
	}
}

func greyToYUV(out, in []byte, w int) {
	for x := 0; x < w; x++ {
		out[3*x], out[3*x+1], out[3*x+2] = in[x], 128, 128
	}
}
