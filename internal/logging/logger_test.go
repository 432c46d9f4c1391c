package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"e":     Error,
		"WARN":  Warn,
		"info":  Info,
		"D":     Debug,
		"trace": MaxLevel,
		"5":     Level(5),
		"-2":    Error,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
	_, err = ParseLevel("10")
	assert.Error(t, err)
}

func TestLevelLetter(t *testing.T) {
	assert.Equal(t, byte('E'), Error.letter())
	assert.Equal(t, byte('D'), Debug.letter())
	assert.Equal(t, byte('7'), Level(7).letter())
}

func TestLogFiltersByLevel(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	log := New(&out, Info).WithTag("test")

	log.Debug("hidden %d", 1)
	assert.Zero(t, out.Len())

	log.Warn("frame %d dropped", 7)
	line := out.String()
	assert.Contains(t, line, "W/test[logger_test.go:")
	assert.True(t, strings.HasSuffix(line, "frame 7 dropped\n"))
}

func TestDirectives(t *testing.T) {
	saved, savedDefault := tagLevels, defaultLevel
	defer func() { tagLevels, defaultLevel = saved, savedDefault }()

	require.NoError(t, parseDirectives("capture=debug,warn"))
	assert.Equal(t, Debug, determineLevel("capture", Info))
	assert.Equal(t, Info, determineLevel("v4l2", Info))
	assert.Equal(t, Warn, defaultLevel)

	assert.Error(t, parseDirectives("capture=shouty"))
}
