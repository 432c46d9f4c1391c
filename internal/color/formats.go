// Copyright 2019 Lanikai Labs. All rights reserved.

package color

import (
	"strings"

	"golang.org/x/xerrors"

	"github.com/lanikai/cmvision/internal/capture"
)

// Format is the pixel layout of a converted frame. All formats are packed,
// row-major and without row padding.
type Format int

const (
	// 3 bytes per pixel: blue, green, red.
	BGR Format = iota + 1

	// 3 bytes per pixel: red, green, blue.
	RGB

	// 1 byte per pixel: luma.
	Gray

	// 3 bytes per pixel: Y, U, V. Chroma of a 4:2:2 source is repeated for
	// both pixels of a pair.
	YUV

	// 4 bytes per pixel pair: Y0 U Y1 V.
	YUYV
)

var formatNames = map[Format]string{
	BGR:  "bgr",
	RGB:  "rgb",
	Gray: "gray",
	YUV:  "yuv",
	YUYV: "yuyv",
}

// Formats lists every supported target format.
func Formats() []Format {
	return []Format{BGR, RGB, Gray, YUV, YUYV}
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "invalid"
}

// ParseFormat accepts a format name ("bgr", "rgb", "gray", "yuv", "yuyv"),
// ignoring case. "grey" is accepted for Gray.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "grey" {
		return Gray, nil
	}
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, xerrors.Errorf("pixel format %q: %w", s, capture.ErrUnsupportedFormat)
}

// BytesPerPixel of the format. YUYV averages 2.
func (f Format) BytesPerPixel() int {
	switch f {
	case BGR, RGB, YUV:
		return 3
	case YUYV:
		return 2
	case Gray:
		return 1
	}
	return 0
}
