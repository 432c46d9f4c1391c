// Copyright 2019 Lanikai Labs. All rights reserved.

//go:build !linux || !(386 || amd64 || arm || arm64 || riscv64 || loong64)

package v4l2

import (
	"github.com/pkg/errors"

	"github.com/lanikai/cmvision/internal/capture"
)

var errUnsupported = errors.Wrap(capture.ErrNotSupported, "V4L2 capture is not available on this platform")

func init() {
	capture.RegisterDriver("v4l2", func(path string) (capture.Driver, error) {
		return nil, errUnsupported
	})
	capture.DefaultPath = FirstDevice
}

func Devices() ([]capture.DeviceInfo, error) {
	return nil, errUnsupported
}

func FirstDevice() (string, error) {
	return "", errUnsupported
}
