// Copyright 2019 Lanikai Labs. All rights reserved.

package color

import (
	"image"
)

// Image returns the frame as an image.Image for encoders. Gray frames share
// Pix; other formats are copied into the closest standard image type.
func (f *Frame) Image() image.Image {
	r := image.Rect(0, 0, f.Width, f.Height)
	switch f.Format {
	case Gray:
		return &image.Gray{Pix: f.Pix, Stride: f.Stride, Rect: r}

	case RGB, BGR:
		img := image.NewNRGBA(r)
		ri, bi := 0, 2
		if f.Format == BGR {
			ri, bi = 2, 0
		}
		for y := 0; y < f.Height; y++ {
			in := f.Pix[y*f.Stride:]
			out := img.Pix[y*img.Stride:]
			for x := 0; x < f.Width; x++ {
				out[4*x+0] = in[3*x+ri]
				out[4*x+1] = in[3*x+1]
				out[4*x+2] = in[3*x+bi]
				out[4*x+3] = 0xff
			}
		}
		return img

	case YUV:
		img := image.NewYCbCr(r, image.YCbCrSubsampleRatio444)
		for y := 0; y < f.Height; y++ {
			in := f.Pix[y*f.Stride:]
			for x := 0; x < f.Width; x++ {
				i := y*img.YStride + x
				img.Y[i] = in[3*x]
				img.Cb[i] = in[3*x+1]
				img.Cr[i] = in[3*x+2]
			}
		}
		return img

	case YUYV:
		img := image.NewYCbCr(r, image.YCbCrSubsampleRatio422)
		for y := 0; y < f.Height; y++ {
			in := f.Pix[y*f.Stride:]
			for x := 0; x+1 < f.Width; x += 2 {
				img.Y[y*img.YStride+x] = in[2*x]
				img.Y[y*img.YStride+x+1] = in[2*x+2]
				img.Cb[y*img.CStride+x/2] = in[2*x+1]
				img.Cr[y*img.CStride+x/2] = in[2*x+3]
			}
		}
		return img
	}

	return image.NewGray(image.Rectangle{})
}
