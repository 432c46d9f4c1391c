// Copyright 2019 Lanikai Labs. All rights reserved.

//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package v4l2

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/lanikai/cmvision/internal/capture"
)

func init() {
	capture.RegisterDriver("v4l2", func(path string) (capture.Driver, error) {
		dev, err := Open(path)
		if err != nil {
			return nil, err
		}
		return dev, nil
	})
	capture.DefaultPath = FirstDevice
}

// Devices lists the streaming capture devices present, in device number
// order. Nodes that cannot be opened or do not capture are skipped.
func Devices() ([]capture.DeviceInfo, error) {
	paths, err := filepath.Glob(DevicePattern)
	if err != nil {
		return nil, errors.Wrap(err, "glob video devices")
	}
	sort.Slice(paths, func(i, j int) bool {
		return deviceNumber(paths[i]) < deviceNumber(paths[j])
	})

	var infos []capture.DeviceInfo
	for _, path := range paths {
		dev, err := Open(path)
		if err != nil {
			log.Debug("skipping %s: %v", path, err)
			continue
		}
		infos = append(infos, dev.Info())
		dev.Close()
	}
	return infos, nil
}

// FirstDevice returns the path of the lowest-numbered capture device.
func FirstDevice() (string, error) {
	infos, err := Devices()
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", errors.Wrap(capture.ErrDevice, "no V4L2 capture device found")
	}
	log.Debug("using %s (%s)", infos[0].Path, infos[0].Card)
	return infos[0].Path, nil
}

// deviceNumber extracts N from /dev/videoN; non-numeric names sort last.
func deviceNumber(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "video"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
