// Copyright 2019 Lanikai Labs. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/cmvision"
	"github.com/lanikai/cmvision/internal/logging"
	"github.com/lanikai/cmvision/internal/server"
	"github.com/lanikai/cmvision/internal/v4l2"
)

// Populated via -ldflags="-X main.GitRevisionId=...".
var GitRevisionId string

var log = logging.DefaultLogger.WithTag("cmvcam")

var (
	flagInput       string
	flagWidth       int
	flagHeight      int
	flagFPS         uint32
	flagPixelFormat string
	flagConfig      string
	flagSet         []string
	flagList        bool
	flagDevices     bool
	flagOutput      string
	flagFormat      string
	flagFrames      int
	flagServe       string
	flagHelp        bool
	flagVersion     bool
)

func init() {
	flag.StringVarP(&flagInput, "input", "i", "", "Capture source")
	flag.IntVarP(&flagWidth, "width", "x", 640, "Frame width")
	flag.IntVarP(&flagHeight, "height", "y", 480, "Frame height")
	flag.Uint32VarP(&flagFPS, "fps", "r", 30, "Frame rate")
	flag.StringVar(&flagPixelFormat, "pixel-format", "YUYV", "Capture fourcc")
	flag.StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	flag.StringArrayVarP(&flagSet, "set", "s", nil, "Set a control, NAME=VALUE")
	flag.BoolVarP(&flagList, "list", "l", false, "Print the control table")
	flag.BoolVar(&flagDevices, "devices", false, "List V4L2 capture devices")
	flag.StringVarP(&flagOutput, "output", "o", "", "Save a frame to FILE")
	flag.StringVarP(&flagFormat, "format", "f", "rgb", "Output layout")
	flag.IntVarP(&flagFrames, "frames", "n", 1, "Frames to capture before saving")
	flag.StringVar(&flagServe, "serve", "", "Serve HTTP on ADDR")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

func fatal(err error) {
	log.Error("%v", err)
	os.Exit(1)
}

func main() {
	flag.Usage = help
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	if flagDevices {
		devices, err := v4l2.Devices()
		if err != nil {
			fatal(err)
		}
		for _, dev := range devices {
			fmt.Printf("%s\t%s\t%s\n", dev.Path, dev.Card, dev.BusInfo)
		}
		return
	}

	cfg, err := loadConfig(flag.CommandLine)
	if err != nil {
		fatal(err)
	}

	cam, err := cmvision.Open(flagInput, cfg)
	if err != nil {
		fatal(err)
	}
	defer cam.Close()

	if err := run(cam); err != nil {
		cam.Close()
		fatal(err)
	}
}

// loadConfig reads the config file, if any, and applies flags that were set
// explicitly on top of it.
func loadConfig(flags *flag.FlagSet) (*cmvision.Config, error) {
	cfg := cmvision.DefaultConfig()
	if flagConfig != "" {
		var err error
		if cfg, err = cmvision.LoadConfigFile(flagConfig); err != nil {
			return nil, err
		}
	}

	if flags.Changed("width") {
		cfg.Width = flagWidth
	}
	if flags.Changed("height") {
		cfg.Height = flagHeight
	}
	if flags.Changed("fps") {
		cfg.FrameRate = flagFPS
	}
	if flags.Changed("pixel-format") {
		cfg.PixelFormat = flagPixelFormat
	}

	for _, s := range flagSet {
		name, value, err := parseSetting(s)
		if err != nil {
			return nil, err
		}
		cfg.Controls.Set(name, value)
	}
	return cfg, nil
}

func parseSetting(s string) (string, int32, error) {
	i := strings.IndexByte(s, '=')
	if i <= 0 {
		return "", 0, errors.Errorf("--set %q: expected NAME=VALUE", s)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s[i+1:]), 0, 32)
	if err != nil {
		return "", 0, errors.Wrapf(cmvision.ErrRange, "--set %q: %v", s, err)
	}
	return strings.TrimSpace(s[:i]), int32(v), nil
}

func run(cam *cmvision.Camera) error {
	acted := false

	if flagOutput != "" {
		acted = true
		if err := saveFrame(cam, flagOutput, flagFormat, flagFrames); err != nil {
			return err
		}
	}

	if flagServe != "" {
		acted = true
		if err := serve(cam, flagServe); err != nil {
			return err
		}
	}

	if flagList || !acted {
		settings, err := cam.Settings()
		if err != nil {
			return err
		}
		printSettings(os.Stdout, cam, settings)
	}
	return nil
}

// serve runs the HTTP server until SIGINT or SIGTERM.
func serve(cam *cmvision.Camera, addr string) error {
	srv := server.New(cam, server.Options{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("received %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-errCh
}
