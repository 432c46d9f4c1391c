// Copyright 2019 Lanikai Labs. All rights reserved.

package logging

import (
	"fmt"
	"os"
	"strings"
)

const envVar = "LOGLEVEL"

type tagLevel struct {
	tag   string
	level Level
}

var tagLevels []tagLevel

func init() {
	if err := parseDirectives(os.Getenv(envVar)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", envVar, err)
	}
	DefaultLogger.Level = defaultLevel
}

// parseDirectives reads comma-separated "tag=level" directives. A directive
// without "tag=" sets the default level.
func parseDirectives(s string) error {
	var bad []string
	for _, d := range strings.Split(s, ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := ParseLevel(v[len(v)-1])
		if err != nil {
			bad = append(bad, d)
			continue
		}
		if len(v) == 1 {
			defaultLevel = level
		} else {
			tagLevels = append(tagLevels, tagLevel{v[0], level})
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid directives %q", bad)
	}
	return nil
}

func determineLevel(tag string, fallback Level) Level {
	for _, e := range tagLevels {
		if e.tag == tag {
			return e.level
		}
	}
	return fallback
}
