// Copyright 2019 Lanikai Labs. All rights reserved.

package cmvision

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/cmvision/internal/capture"
)

// Config describes how a camera is opened. The zero value of any field means
// "use the default".
type Config struct {
	// Source spec, e.g. "/dev/video1", "v4l2:/dev/video0" or "test:bars".
	// Empty selects the first V4L2 device.
	Device string `yaml:"device"`

	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	PixelFormat string `yaml:"pixel_format"`
	FrameRate   uint32 `yaml:"fps"`

	// Number of streaming buffers to request.
	Buffers int `yaml:"buffers"`

	// How long Image waits for a frame, e.g. "500ms".
	Timeout time.Duration `yaml:"timeout"`

	// Control values applied, in order, right after the device is opened.
	Controls Presets `yaml:"controls"`
}

// Preset is one control assignment.
type Preset struct {
	Name  string
	Value int32
}

// Presets is an ordered list of control assignments. In YAML it is written as
// a mapping and keeps the document order, since some controls only take
// effect after others (exposure_absolute needs exposure_auto=1).
type Presets []Preset

func (p *Presets) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: controls must be a mapping of name: value", node.Line)
	}
	var presets Presets
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value int32
		if err := node.Content[i+1].Decode(&value); err != nil {
			return errors.Wrapf(err, "control %s", node.Content[i].Value)
		}
		presets = append(presets, Preset{node.Content[i].Value, value})
	}
	*p = presets
	return nil
}

func (p Presets) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, preset := range p {
		var key, value yaml.Node
		if err := key.Encode(preset.Name); err != nil {
			return nil, err
		}
		if err := value.Encode(preset.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &key, &value)
	}
	return node, nil
}

// Set appends a preset, replacing an earlier one with the same name.
func (p *Presets) Set(name string, value int32) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Preset{name, value})
}

// DefaultConfig returns 640x480 YUYV at 30 fps with three buffers.
func DefaultConfig() *Config {
	return &Config{
		Width:       640,
		Height:      480,
		PixelFormat: "YUYV",
		FrameRate:   30,
		Buffers:     capture.DefaultBuffers,
		Timeout:     capture.DefaultTimeout,
	}
}

// LoadConfig reads a YAML config. Fields missing from the document keep their
// defaults.
func LoadConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := LoadConfig(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return cfg, nil
}

// Write encodes the config as YAML.
func (cfg *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func (cfg *Config) validate() error {
	if cfg.Width < 0 || cfg.Height < 0 {
		return errors.Wrapf(ErrRange, "frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Buffers < 0 || cfg.Buffers > capture.MaxBuffers {
		return errors.Wrapf(ErrRange, "buffers %d, must be at most %d", cfg.Buffers, capture.MaxBuffers)
	}
	if cfg.Timeout < 0 {
		return errors.Wrapf(ErrRange, "timeout %v", cfg.Timeout)
	}
	if _, err := cfg.pixelFormat(); err != nil {
		return err
	}
	return nil
}

func (cfg *Config) pixelFormat() (capture.PixelFormat, error) {
	if cfg.PixelFormat == "" {
		return capture.PixelFormatYUYV, nil
	}
	return capture.ParsePixelFormat(strings.ToUpper(cfg.PixelFormat))
}

// withDefaults fills unset fields from DefaultConfig.
func (cfg Config) withDefaults() *Config {
	def := DefaultConfig()
	if cfg.Width == 0 {
		cfg.Width = def.Width
	}
	if cfg.Height == 0 {
		cfg.Height = def.Height
	}
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = def.PixelFormat
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.Buffers == 0 {
		cfg.Buffers = def.Buffers
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	return &cfg
}
