// Copyright 2019 Lanikai Labs. All rights reserved.

// Package media fans converted frames out to any number of slow consumers.
package media

import (
	"github.com/lanikai/cmvision/internal/logging"
)

var log = logging.DefaultLogger.WithTag("media")
