package main

import (
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"

	"github.com/lanikai/cmvision"
)

// saveFrame captures n frames and writes the last one to path. The file
// extension picks the encoding: .png, .bmp, or raw pixels otherwise.
func saveFrame(cam *cmvision.Camera, path, format string, n int) error {
	if n < 1 {
		n = 1
	}

	var frame cmvision.Frame
	for i := 0; i < n; i++ {
		if err := cam.ImageInto(&frame, format); err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeFrame(f, &frame, filepath.Ext(path)); err != nil {
		f.Close()
		return errors.Wrap(err, path)
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Info("wrote %s: frame %d, %dx%d %v", path, frame.Sequence, frame.Width, frame.Height, frame.Format)
	return nil
}

func writeFrame(w io.Writer, frame *cmvision.Frame, ext string) error {
	switch strings.ToLower(ext) {
	case ".png":
		return png.Encode(w, frame.Image())
	case ".bmp":
		return bmp.Encode(w, frame.Image())
	}
	_, err := w.Write(frame.Pix)
	return err
}

// printSettings writes the control table: name, value, default, min, max and
// step, one row per control.
func printSettings(w io.Writer, cam *cmvision.Camera, settings []cmvision.Setting) {
	info := cam.Info()
	h, wd := cam.Shape()
	fmt.Fprintf(w, "%s (%s) %dx%d %v @ %d fps\n\n", info.Path, info.Card, wd, h, cam.Format().PixelFormat, cam.FrameRate())

	width := len("name")
	for _, s := range settings {
		if len(s.Name) > width {
			width = len(s.Name)
		}
	}

	header := color.New(color.Bold, color.FgCyan)
	header.Fprintf(w, "%-*s %8s %8s %8s %8s %6s\n", width, "name", "value", "default", "min", "max", "step")

	changed := color.New(color.FgYellow)
	for _, s := range settings {
		row := fmt.Sprintf("%-*s %8d %8d %8d %8d %6d", width, s.Name, s.Value, s.Default, s.Min, s.Max, s.Step)
		if s.Value != s.Default {
			changed.Fprintln(w, row)
		} else {
			fmt.Fprintln(w, row)
		}
	}
}
