// Copyright 2019 Lanikai Labs. All rights reserved.

//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// From linux/videodev2.h.
const (
	bufTypeVideoCapture = 1
	memoryMMAP          = 1
	fieldAny            = 0

	capVideoCapture = 0x00000001
	capStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000

	capTimePerFrame = 0x1000

	bufFlagError = 0x0040

	ctrlFlagDisabled = 0x0001
	ctrlFlagReadOnly = 0x0004
	ctrlFlagNextCtrl = 0x80000000

	ctrlTypeInteger     = 1
	ctrlTypeBoolean     = 2
	ctrlTypeMenu        = 3
	ctrlTypeIntegerMenu = 9

	cidUserBase   = 0x00980900
	cidUserLastP1 = cidUserBase + 44
	cidPrivBase   = 0x08000000
)

type capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type pixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// The kernel union holds pointers (struct v4l2_window), so it is pointer
// aligned: 208 bytes on 64-bit, 204 on 32-bit.
type formatUnion struct {
	_   [0]uintptr
	raw [200]byte
}

type format struct {
	typ uint32
	fmt formatUnion
}

func (f *format) pix() *pixFormat {
	return (*pixFormat)(unsafe.Pointer(&f.fmt.raw[0]))
}

type requestbuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  timecode
	sequence  uint32
	memory    uint32

	// union { __u32 offset; unsigned long userptr; ...; __s32 fd; }
	m uintptr

	length    uint32
	reserved2 uint32
	requestFD int32
}

// offset is the mmap offset of an MMAP buffer. Every supported
// architecture is little-endian, so it sits in the low word of m.
func (b *buffer) offset() uint32 {
	return *(*uint32)(unsafe.Pointer(&b.m))
}

type queryctrl struct {
	id           uint32
	typ          uint32
	name         [32]byte
	minimum      int32
	maximum      int32
	step         int32
	defaultValue int32
	flags        uint32
	reserved     [2]uint32
}

type control struct {
	id    uint32
	value int32
}

type fract struct {
	numerator   uint32
	denominator uint32
}

type captureparm struct {
	capability   uint32
	capturemode  uint32
	timeperframe fract
	extendedmode uint32
	readbuffers  uint32
	reserved     [4]uint32
}

// v4l2_streamparm with the capture member of its 200-byte union.
type streamparm struct {
	typ     uint32
	capture captureparm
	_       [200 - unsafe.Sizeof(captureparm{})]byte
}

// asm-generic ioctl number encoding.
const (
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | 'V'<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func ior(nr, size uintptr) uintptr  { return ioc(iocRead, nr, size) }
func iow(nr, size uintptr) uintptr  { return ioc(iocWrite, nr, size) }
func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

var (
	vidiocQuerycap  = ior(0, unsafe.Sizeof(capability{}))
	vidiocEnumFmt   = iowr(2, unsafe.Sizeof(fmtdesc{}))
	vidiocGFmt      = iowr(4, unsafe.Sizeof(format{}))
	vidiocSFmt      = iowr(5, unsafe.Sizeof(format{}))
	vidiocReqbufs   = iowr(8, unsafe.Sizeof(requestbuffers{}))
	vidiocQuerybuf  = iowr(9, unsafe.Sizeof(buffer{}))
	vidiocQbuf      = iowr(15, unsafe.Sizeof(buffer{}))
	vidiocDqbuf     = iowr(17, unsafe.Sizeof(buffer{}))
	vidiocStreamon  = iow(18, unsafe.Sizeof(int32(0)))
	vidiocStreamoff = iow(19, unsafe.Sizeof(int32(0)))
	vidiocGParm     = iowr(21, unsafe.Sizeof(streamparm{}))
	vidiocSParm     = iowr(22, unsafe.Sizeof(streamparm{}))
	vidiocGCtrl     = iowr(27, unsafe.Sizeof(control{}))
	vidiocSCtrl     = iowr(28, unsafe.Sizeof(control{}))
	vidiocQueryctrl = iowr(36, unsafe.Sizeof(queryctrl{}))
)

// cstr converts a NUL-padded kernel string.
func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
