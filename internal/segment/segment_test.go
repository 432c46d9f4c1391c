package segment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/cmvision/internal/capture"
)

// Luma used to paint each class; chroma is neutral.
func luma(class int) uint8 {
	return uint8(10 + 20*class)
}

// frame paints a YUYV frame from a class grid given as strings, where '.' is
// class 0 and digits are classes.
func frame(rows ...string) *capture.RawFrame {
	w, h := len(rows[0]), len(rows)
	data := make([]byte, 2*w*h)
	for y, row := range rows {
		for x := 0; x < w; x++ {
			c := 0
			if row[x] != '.' {
				c = int(row[x] - '0')
			}
			data[2*(y*w+x)] = luma(c)
			data[2*(y*w+x)+1] = 128 // U or V
		}
	}
	return &capture.RawFrame{Data: data, Width: w, Height: h, Stride: 2 * w, Format: capture.PixelFormatYUYV}
}

func newSegmenter(t *testing.T, w, h int, classes ...int) *Segmenter {
	s, err := New(w, h)
	require.NoError(t, err)
	for c := 0; c < Classes; c++ {
		require.NoError(t, s.SetColor(luma(c), 128, 128, c))
	}
	for _, c := range classes {
		require.NoError(t, s.SetMinArea(c, 1))
	}
	return s
}

func TestBlobsSortedByArea(t *testing.T) {
	s := newSegmenter(t, 8, 6, 1, 2)
	require.NoError(t, s.Analyse(frame(
		"11....22",
		"11....22",
		"..1111..",
		"..1111..",
		"..1111..",
		"..1111..",
	)))

	blobs, err := s.Blobs(1)
	require.NoError(t, err)
	require.Len(t, blobs, 2)

	assert.Equal(t, Blob{Area: 16, CenX: 4, CenY: 4, X1: 2, X2: 5, Y1: 2, Y2: 5}, blobs[0])
	// Centroid (0.5, 0.5) rounds away from zero.
	assert.Equal(t, Blob{Area: 4, CenX: 1, CenY: 1, X1: 0, X2: 1, Y1: 0, Y2: 1}, blobs[1])

	blobs, err = s.Blobs(2)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, 4, blobs[0].Area)
	assert.Equal(t, 6, blobs[0].X1)
	assert.Equal(t, 7, blobs[0].X2)
}

func TestFourConnectivity(t *testing.T) {
	s := newSegmenter(t, 4, 2, 1)
	require.NoError(t, s.Analyse(frame(
		"1...",
		".1..",
	)))
	blobs, err := s.Blobs(1)
	require.NoError(t, err)
	assert.Len(t, blobs, 2, "diagonal neighbours are separate regions")
}

func TestBranchesMerge(t *testing.T) {
	s := newSegmenter(t, 6, 4, 1)
	require.NoError(t, s.Analyse(frame(
		"1.1..1",
		"1.1..1",
		"1.1111",
		"111...",
	)))
	blobs, err := s.Blobs(1)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, 14, blobs[0].Area)
	assert.Equal(t, 0, blobs[0].X1)
	assert.Equal(t, 5, blobs[0].X2)
	assert.Equal(t, 0, blobs[0].Y1)
	assert.Equal(t, 3, blobs[0].Y2)
}

func TestMinAreaAndDisabledClasses(t *testing.T) {
	s := newSegmenter(t, 6, 2, 1)
	require.NoError(t, s.SetMinArea(1, 5))
	require.NoError(t, s.Analyse(frame(
		"11.333",
		"11.333",
	)))

	blobs, err := s.Blobs(1)
	require.NoError(t, err)
	assert.Empty(t, blobs)

	blobs, err = s.Blobs(3)
	require.NoError(t, err)
	assert.Empty(t, blobs, "class 3 was never enabled")

	require.NoError(t, s.SetMinArea(3, 0))
	require.NoError(t, s.Analyse(frame(
		"11.333",
		"11.333",
	)))
	blobs, err = s.Blobs(3)
	require.NoError(t, err)
	assert.Len(t, blobs, 1)

	s.Disable(3)
	require.NoError(t, s.Analyse(frame(
		"11.333",
		"11.333",
	)))
	blobs, err = s.Blobs(3)
	require.NoError(t, err)
	assert.Empty(t, blobs)
}

func TestActivePixelsAndClassMap(t *testing.T) {
	s := newSegmenter(t, 4, 2, 1)
	require.NoError(t, s.SetActivePixels([]byte{
		1, 1, 0, 0,
		1, 1, 1, 1,
	}))
	require.NoError(t, s.Analyse(frame(
		"1111",
		"..2.",
	)))
	assert.Equal(t, []byte{1, 1, 0, 0, 0, 0, 2, 0}, s.Segmented())

	blobs, err := s.Blobs(1)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, 2, blobs[0].Area)
}

func TestLocations(t *testing.T) {
	s := newSegmenter(t, 4, 4, 1)
	r := make([]uint16, 16)
	phi := make([]uint16, 16)
	for i := range r {
		r[i] = uint16(100 + i)
		phi[i] = uint16(i)
	}
	require.NoError(t, s.SetLocations(r, phi))
	require.NoError(t, s.Analyse(frame(
		"....",
		"....",
		"..1.",
		"....",
	)))

	blobs, err := s.Blobs(1)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.EqualValues(t, 110, blobs[0].Distance)
	assert.EqualValues(t, 10, blobs[0].Angle)
}

func TestLookupTable(t *testing.T) {
	s, err := New(2, 1)
	require.NoError(t, err)
	require.NoError(t, s.SetMinArea(4, 1))

	lut := make([]byte, LUTSize)
	lut[index(200, 50, 60)] = 4
	require.NoError(t, s.SetColors(lut))

	raw := &capture.RawFrame{Data: []byte{200, 50, 200, 60}, Width: 2, Height: 1, Format: capture.PixelFormatYUYV}
	require.NoError(t, s.Analyse(raw))
	blobs, err := s.Blobs(4)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, 2, blobs[0].Area)

	lut[0] = Classes
	assert.True(t, errors.Is(s.SetColors(lut), capture.ErrRange))
}

func TestErrors(t *testing.T) {
	_, err := New(3, 2)
	assert.True(t, errors.Is(err, capture.ErrInvalidFrame))

	s := newSegmenter(t, 4, 2)
	assert.True(t, errors.Is(s.SetMinArea(Classes, 1), capture.ErrRange))
	assert.True(t, errors.Is(s.SetMinArea(-1, 1), capture.ErrRange))
	assert.True(t, errors.Is(s.SetColor(1, 2, 3, 10), capture.ErrRange))
	_, err = s.Blobs(10)
	assert.True(t, errors.Is(err, capture.ErrRange))

	assert.True(t, errors.Is(s.SetActivePixels(make([]byte, 3)), capture.ErrInvalidFrame))
	assert.True(t, errors.Is(s.SetLocations(make([]uint16, 8), make([]uint16, 7)), capture.ErrInvalidFrame))

	uyvy := frame("....", "....")
	uyvy.Format = capture.PixelFormatUYVY
	assert.True(t, errors.Is(s.Analyse(uyvy), capture.ErrUnsupportedFormat))

	assert.True(t, errors.Is(s.Analyse(frame("......", "......")), capture.ErrInvalidFrame))

	short := frame("....", "....")
	short.Data = short.Data[:10]
	assert.True(t, errors.Is(s.Analyse(short), capture.ErrInvalidFrame))
}
