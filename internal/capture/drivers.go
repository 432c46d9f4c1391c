package capture

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// OpenFunc opens a driver for the path part of a source spec.
type OpenFunc func(path string) (Driver, error)

var drivers = map[string]OpenFunc{}

// DefaultPath, when set, resolves an empty source spec (typically to the
// first discovered capture device).
var DefaultPath func() (string, error)

// RegisterDriver registers a driver type, identified by its source tag.
func RegisterDriver(tag string, open OpenFunc) {
	drivers[tag] = open
}

// OpenDriver opens a driver based on its source spec: a tag and a path
// separated by a colon, e.g. "v4l2:/dev/video0" or "test:bars". A bare
// device path ("/dev/video1") implies the v4l2 tag. An empty spec asks
// DefaultPath for a device.
func OpenDriver(spec string) (Driver, error) {
	var tags []string
	for t := range drivers {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	log.Debug("registered driver types: %v", tags)

	if spec == "" {
		if DefaultPath == nil {
			return nil, errors.Wrap(ErrDevice, "no capture device given and no discovery available")
		}
		path, err := DefaultPath()
		if err != nil {
			return nil, deviceError(err, "discover capture device")
		}
		spec = path
	}

	tag, path := "v4l2", spec
	if !strings.HasPrefix(spec, "/") {
		parts := strings.SplitN(spec, ":", 2)
		tag = parts[0]
		path = ""
		if len(parts) == 2 {
			path = parts[1]
		}
	}

	open, found := drivers[tag]
	if !found {
		return nil, errors.Wrapf(ErrDevice, "driver type '%s' not registered", tag)
	}
	drv, err := open(path)
	if err != nil {
		return nil, deviceError(err, "open %s", spec)
	}
	return drv, nil
}
