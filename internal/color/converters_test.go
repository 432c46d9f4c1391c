package color

import (
	"errors"
	"image"
	stdcolor "image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/cmvision/internal/capture"
)

func yuyvFrame(w, h int, fill func(i int) byte) *capture.RawFrame {
	data := make([]byte, 2*w*h)
	for i := range data {
		data[i] = fill(i)
	}
	return &capture.RawFrame{
		Data:   data,
		Width:  w,
		Height: h,
		Stride: 2 * w,
		Format: capture.PixelFormatYUYV,
	}
}

func constant(b byte) func(int) byte {
	return func(int) byte { return b }
}

func TestNeutralGray(t *testing.T) {
	raw := yuyvFrame(4, 2, constant(128))

	for _, target := range []Format{BGR, RGB, Gray, YUV} {
		f, err := Convert(raw, target)
		require.NoError(t, err, target)
		assert.Len(t, f.Pix, 4*2*target.BytesPerPixel(), target)
		for i, b := range f.Pix {
			if b != 128 {
				t.Fatalf("%v: byte %d = %d, want 128", target, i, b)
			}
		}
	}
}

func TestOutputSize(t *testing.T) {
	raw := yuyvFrame(320, 240, func(i int) byte { return byte(i * 7) })
	for _, target := range Formats() {
		f, err := Convert(raw, target)
		require.NoError(t, err)
		assert.Len(t, f.Pix, 320*240*target.BytesPerPixel(), target)
		assert.Equal(t, 320*target.BytesPerPixel(), f.Stride)
		assert.Equal(t, target, f.Format)
	}
}

func TestConvertIsPure(t *testing.T) {
	raw := yuyvFrame(64, 48, func(i int) byte { return byte(i*31 + i/5) })
	for _, target := range Formats() {
		a, err := Convert(raw, target)
		require.NoError(t, err)
		b, err := Convert(raw, target)
		require.NoError(t, err)
		assert.Equal(t, a.Pix, b.Pix, target)
	}
}

func TestYCbCrTransform(t *testing.T) {
	// One pixel pair: Y0=81 U=90 Y1=145 V=240 (roughly red, then orange).
	raw := &capture.RawFrame{
		Data:   []byte{81, 90, 145, 240},
		Width:  2,
		Height: 1,
		Format: capture.PixelFormatYUYV,
	}

	rgb, err := Convert(raw, RGB)
	require.NoError(t, err)
	r0, g0, b0 := stdcolor.YCbCrToRGB(81, 90, 240)
	r1, g1, b1 := stdcolor.YCbCrToRGB(145, 90, 240)
	assert.Equal(t, []byte{r0, g0, b0, r1, g1, b1}, rgb.Pix)

	bgr, err := Convert(raw, BGR)
	require.NoError(t, err)
	assert.Equal(t, []byte{b0, g0, r0, b1, g1, r1}, bgr.Pix)

	// Black and white with neutral chroma.
	raw.Data = []byte{0, 128, 255, 128}
	rgb, err = Convert(raw, RGB)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 255, 255, 255}, rgb.Pix)
}

func TestYUVLayout(t *testing.T) {
	raw := &capture.RawFrame{
		Data:   []byte{10, 20, 30, 40},
		Width:  2,
		Height: 1,
		Format: capture.PixelFormatYUYV,
	}
	f, err := Convert(raw, YUV)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 40, 30, 20, 40}, f.Pix)

	g, err := Convert(raw, Gray)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 30}, g.Pix)
}

func TestUYVYMatchesYUYV(t *testing.T) {
	yuyv := yuyvFrame(16, 4, func(i int) byte { return byte(i*13 + 5) })
	uyvy := &capture.RawFrame{
		Data:   make([]byte, len(yuyv.Data)),
		Width:  yuyv.Width,
		Height: yuyv.Height,
		Format: capture.PixelFormatUYVY,
	}
	for i := 0; i < len(yuyv.Data); i += 2 {
		uyvy.Data[i], uyvy.Data[i+1] = yuyv.Data[i+1], yuyv.Data[i]
	}

	for _, target := range Formats() {
		a, err := Convert(yuyv, target)
		require.NoError(t, err)
		b, err := Convert(uyvy, target)
		require.NoError(t, err)
		assert.Equal(t, a.Pix, b.Pix, target)
	}
}

func TestGrey(t *testing.T) {
	raw := &capture.RawFrame{
		Data:   []byte{0, 50, 200, 255},
		Width:  4,
		Height: 1,
		Format: capture.PixelFormatGrey,
	}

	f, err := Convert(raw, BGR)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 50, 50, 50, 200, 200, 200, 255, 255, 255}, f.Pix)

	f, err = Convert(raw, YUV)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 128, 128, 50, 128, 128, 200, 128, 128, 255, 128, 128}, f.Pix)

	_, err = Convert(raw, YUYV)
	assert.True(t, errors.Is(err, capture.ErrUnsupportedFormat))
}

func TestStrideSkipsPadding(t *testing.T) {
	// 2x2 YUYV with 4 bytes of padding per row.
	raw := &capture.RawFrame{
		Data: []byte{
			1, 128, 2, 128, 0xee, 0xee, 0xee, 0xee,
			3, 128, 4, 128, 0xee, 0xee, 0xee, 0xee,
		},
		Width:  2,
		Height: 2,
		Stride: 8,
		Format: capture.PixelFormatYUYV,
	}
	f, err := Convert(raw, Gray)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, f.Pix)

	// The last row does not need its padding.
	raw.Data = raw.Data[:12]
	_, err = Convert(raw, Gray)
	assert.NoError(t, err)
}

func TestConvertErrors(t *testing.T) {
	good := yuyvFrame(4, 2, constant(128))

	tests := []struct {
		name   string
		raw    *capture.RawFrame
		target Format
		want   error
	}{
		{"nil frame", nil, BGR, capture.ErrInvalidFrame},
		{"zero width", &capture.RawFrame{Data: good.Data, Width: 0, Height: 2, Format: capture.PixelFormatYUYV}, BGR, capture.ErrInvalidFrame},
		{"odd width", &capture.RawFrame{Data: good.Data, Width: 3, Height: 2, Format: capture.PixelFormatYUYV}, BGR, capture.ErrInvalidFrame},
		{"short data", &capture.RawFrame{Data: good.Data[:10], Width: 4, Height: 2, Format: capture.PixelFormatYUYV}, BGR, capture.ErrInvalidFrame},
		{"short stride", &capture.RawFrame{Data: good.Data, Width: 4, Height: 2, Stride: 6, Format: capture.PixelFormatYUYV}, BGR, capture.ErrInvalidFrame},
		{"unknown target", good, Format(99), capture.ErrUnsupportedFormat},
		{"compressed source", &capture.RawFrame{Data: good.Data, Width: 4, Height: 2, Format: capture.PixelFormatMJPEG}, BGR, capture.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Convert(tt.raw, tt.target)
			assert.Nil(t, f)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestConvertIntoReusesBuffer(t *testing.T) {
	raw := yuyvFrame(8, 8, constant(128))
	dst := &Frame{Pix: make([]byte, 0, 1024)}
	base := &dst.Pix[:1][0]

	require.NoError(t, ConvertInto(dst, raw, BGR))
	assert.Len(t, dst.Pix, 8*8*3)
	assert.Same(t, base, &dst.Pix[0])

	// Too small: reallocated.
	dst = &Frame{Pix: make([]byte, 4)}
	require.NoError(t, ConvertInto(dst, raw, BGR))
	assert.Len(t, dst.Pix, 8*8*3)
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats() {
		got, err := ParseFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	f, err := ParseFormat(" GREY ")
	require.NoError(t, err)
	assert.Equal(t, Gray, f)

	_, err = ParseFormat("hsv")
	assert.True(t, errors.Is(err, capture.ErrUnsupportedFormat))
}

func TestYUYVImage(t *testing.T) {
	const w, h = 64, 16
	raw := yuyvFrame(w, h, func(i int) byte { return byte(i) })
	f, err := Convert(raw, YUYV)
	require.NoError(t, err)

	img, ok := f.Image().(*image.YCbCr)
	require.True(t, ok)
	assert.Equal(t, image.YCbCrSubsampleRatio422, img.SubsampleRatio)

	// Verify luma
	for i := 0; i < w*h; i++ {
		if img.Y[i] != byte(2*i) {
			t.Fatalf("Y[%d] = %d, want %d", i, img.Y[i], byte(2*i))
		}
	}

	// Verify chroma
	for row := 0; row < h; row++ {
		for col := 0; col < w/2; col++ {
			if img.Cb[w/2*row+col] != byte(2*w*row+4*col+1) {
				t.FailNow()
			}
			if img.Cr[w/2*row+col] != byte(2*w*row+4*col+3) {
				t.FailNow()
			}
		}
	}
}

func TestImageColorModels(t *testing.T) {
	raw := yuyvFrame(4, 2, constant(128))

	gray, err := Convert(raw, Gray)
	require.NoError(t, err)
	gimg := gray.Image().(*image.Gray)
	assert.Same(t, &gray.Pix[0], &gimg.Pix[0])

	bgr, err := Convert(raw, BGR)
	require.NoError(t, err)
	bgr.Pix[0], bgr.Pix[1], bgr.Pix[2] = 10, 20, 30
	c := bgr.Image().At(0, 0).(stdcolor.NRGBA)
	assert.Equal(t, stdcolor.NRGBA{R: 30, G: 20, B: 10, A: 255}, c)

	yuv, err := Convert(raw, YUV)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), yuv.Image().Bounds())
}

func BenchmarkConvertYUYVToBGRAt720P(b *testing.B) {
	raw := yuyvFrame(1280, 720, constant(128))
	dst := new(Frame)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ConvertInto(dst, raw, BGR)
	}
}
