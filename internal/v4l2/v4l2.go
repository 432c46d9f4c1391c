// Copyright 2019 Lanikai Labs. All rights reserved.

// Package v4l2 drives Video4Linux2 capture devices through ioctl and mmap.
// Importing it registers the "v4l2" source tag with the capture package and
// makes an empty source spec resolve to the first capture device found.
package v4l2

import (
	"github.com/lanikai/cmvision/internal/logging"
)

var log = logging.DefaultLogger.WithTag("v4l2")

// DevicePattern is where capture device nodes are looked for.
const DevicePattern = "/dev/video*"
