// Copyright 2019 Lanikai Labs. All rights reserved.

package main

import (
	"fmt"

	"github.com/fatih/color"
)

const helpString = `Capture frames and adjust controls of a V4L2 camera

Usage: cmvcam [OPTION]...

Capture source:
  -i, --input=SPEC         Capture source: /dev/videoN, v4l2:PATH or
                           test:PATTERN (bars, gray, ramp)
                           (default: first /dev/video* device)
  -x, --width=NUM          Frame width (default: 640)
  -y, --height=NUM         Frame height (default: 480)
  -r, --fps=NUM            Frame rate (default: 30)
      --pixel-format=CODE  Capture fourcc: YUYV, UYVY or GREY (default: YUYV)
  -c, --config=FILE        Read settings from a YAML file; flags win
  -s, --set=NAME=VALUE     Set a control after opening (repeatable)

Actions:
  -l, --list               Print the control table (default action)
      --devices            List V4L2 capture devices and exit
  -o, --output=FILE        Save a frame: .png, .bmp, anything else is raw
  -f, --format=NAME        Output layout: bgr, rgb, gray, yuv, yuyv
                           (default: rgb)
  -n, --frames=NUM         Frames to capture before saving (default: 1)
      --serve=ADDR         Serve settings, snapshots and a live preview,
                           e.g. :8000

Miscellaneous:
  -h, --help               Prints this help message and exits
  -v, --version            Prints version information and exits

Log levels are set with LOGLEVEL, e.g. LOGLEVEL=debug or LOGLEVEL=capture=trace.`

// banner lines, split into "cm", "v" and "cam".
var banner = [][3]string{
	{"  ___  _ __ ___  ", "__   __ ", " ___   __ _  _ __ ___  "},
	{" / __|| '_ ` _ \\ ", "\\ \\ / / ", "/ __| / _` || '_ ` _ \\ "},
	{"| (__ | | | | | |", " \\ V /  ", "| (__ | (_| || | | | | |"},
	{" \\___||_| |_| |_|", "  \\_/   ", " \\___| \\__,_||_| |_| |_|"},
}

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	for _, line := range banner {
		r.Print(line[0])
		y.Print(line[1])
		b.Println(line[2])
	}
	fmt.Println()
	fmt.Println(helpString)
}

// version displays information and exits successfully (GNU convention)
func version() {
	rev := GitRevisionId
	if rev == "" {
		rev = "(devel)"
	}
	fmt.Println("cmvcam", rev)
}
