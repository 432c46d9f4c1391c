// Copyright 2019 Lanikai Labs. All rights reserved.

//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package v4l2

import (
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/cmvision/internal/capture"
)

// A V4L2 video capture device. Implements capture.Driver.
type Device struct {
	// Device path, usually "/dev/video0".
	path string

	// File descriptor of the device node.
	fd int

	// Pipe used to wake a blocked Dequeue: wake[0] is polled, Interrupt
	// writes to wake[1].
	wake [2]int

	info capture.DeviceInfo
}

// Open a V4L2 device node and check that it supports streaming video
// capture.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	dev := &Device{path: path, fd: fd, wake: [2]int{-1, -1}}

	var cp capability
	if err := dev.ioctl(vidiocQuerycap, unsafe.Pointer(&cp)); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(capture.Wrap(capture.ErrDevice, err), "%s: not a V4L2 device", path)
	}
	caps := cp.capabilities
	if caps&capDeviceCaps != 0 {
		caps = cp.deviceCaps
	}
	if caps&capVideoCapture == 0 || caps&capStreaming == 0 {
		unix.Close(fd)
		return nil, errors.Wrapf(capture.ErrDevice, "%s: not a streaming capture device (caps %#x)", path, caps)
	}

	if err := unix.Pipe2(dev.wake[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "wake pipe")
	}

	dev.info = capture.DeviceInfo{
		Path:    path,
		Driver:  cstr(cp.driver[:]),
		Card:    cstr(cp.card[:]),
		BusInfo: cstr(cp.busInfo[:]),
	}
	return dev, nil
}

// ioctl retries calls interrupted by a signal.
func (dev *Device) ioctl(request uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(dev.fd), request, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

func (dev *Device) Info() capture.DeviceInfo {
	return dev.info
}

func (dev *Device) Formats() ([]capture.PixelFormat, error) {
	var formats []capture.PixelFormat
	for i := uint32(0); ; i++ {
		fd := fmtdesc{index: i, typ: bufTypeVideoCapture}
		err := dev.ioctl(vidiocEnumFmt, unsafe.Pointer(&fd))
		if err == unix.EINVAL {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "VIDIOC_ENUM_FMT")
		}
		formats = append(formats, capture.PixelFormat(fd.pixelformat))
	}
	return formats, nil
}

// SetFormat requests a format and reads back what the driver settled on.
func (dev *Device) SetFormat(want capture.Format) (capture.Format, error) {
	f := format{typ: bufTypeVideoCapture}
	pix := f.pix()
	pix.width = uint32(want.Width)
	pix.height = uint32(want.Height)
	pix.pixelformat = uint32(want.PixelFormat)
	pix.field = fieldAny

	if err := dev.ioctl(vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		if err == unix.EINVAL {
			return capture.Format{}, errors.Wrapf(capture.Wrap(capture.ErrUnsupportedFormat, err), "VIDIOC_S_FMT %v", want)
		}
		return capture.Format{}, errors.Wrap(err, "VIDIOC_S_FMT")
	}

	f = format{typ: bufTypeVideoCapture}
	if err := dev.ioctl(vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return capture.Format{}, errors.Wrap(err, "VIDIOC_G_FMT")
	}
	pix = f.pix()
	return capture.Format{
		Width:       int(pix.width),
		Height:      int(pix.height),
		PixelFormat: capture.PixelFormat(pix.pixelformat),
		Stride:      int(pix.bytesperline),
		SizeImage:   int(pix.sizeimage),
	}, nil
}

// SetFrameRate sets the time per frame to 1/fps. Devices without frame
// interval support keep their rate; it is returned unchanged.
func (dev *Device) SetFrameRate(fps uint32) (uint32, error) {
	p := streamparm{typ: bufTypeVideoCapture}
	if err := dev.ioctl(vidiocGParm, unsafe.Pointer(&p)); err != nil {
		return 0, errors.Wrap(err, "VIDIOC_G_PARM")
	}
	if p.capture.capability&capTimePerFrame == 0 {
		log.Debug("%s: frame rate not adjustable", dev.path)
		return rate(p.capture.timeperframe), nil
	}

	p.capture.timeperframe = fract{numerator: 1, denominator: fps}
	if err := dev.ioctl(vidiocSParm, unsafe.Pointer(&p)); err != nil {
		return 0, errors.Wrap(err, "VIDIOC_S_PARM")
	}
	return rate(p.capture.timeperframe), nil
}

func rate(tpf fract) uint32 {
	if tpf.numerator == 0 {
		return 0
	}
	return tpf.denominator / tpf.numerator
}

// QueryControls enumerates integer, boolean and menu controls. Disabled
// controls and other control types are skipped.
func (dev *Device) QueryControls() ([]capture.ControlInfo, error) {
	var infos []capture.ControlInfo
	id := uint32(ctrlFlagNextCtrl)
	for {
		q := queryctrl{id: id}
		err := dev.ioctl(vidiocQueryctrl, unsafe.Pointer(&q))
		if err == unix.EINVAL {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "VIDIOC_QUERYCTRL")
		}
		id = q.id | ctrlFlagNextCtrl

		if info, ok := controlInfo(&q); ok {
			infos = append(infos, info)
		}
	}

	if len(infos) == 0 {
		return dev.queryControlsLegacy()
	}
	return infos, nil
}

// queryControlsLegacy probes user-class and private control IDs one by one,
// for drivers that do not support V4L2_CTRL_FLAG_NEXT_CTRL.
func (dev *Device) queryControlsLegacy() ([]capture.ControlInfo, error) {
	var infos []capture.ControlInfo
	probe := func(id uint32) bool {
		q := queryctrl{id: id}
		if err := dev.ioctl(vidiocQueryctrl, unsafe.Pointer(&q)); err != nil {
			return false
		}
		if info, ok := controlInfo(&q); ok {
			infos = append(infos, info)
		}
		return true
	}

	for id := uint32(cidUserBase); id < cidUserLastP1; id++ {
		probe(id)
	}
	for id := uint32(cidPrivBase); probe(id); id++ {
	}
	return infos, nil
}

func controlInfo(q *queryctrl) (capture.ControlInfo, bool) {
	if q.flags&ctrlFlagDisabled != 0 {
		return capture.ControlInfo{}, false
	}

	var kind capture.ControlKind
	switch q.typ {
	case ctrlTypeInteger:
		kind = capture.ControlInteger
	case ctrlTypeBoolean:
		kind = capture.ControlBoolean
	case ctrlTypeMenu:
		kind = capture.ControlMenu
	case ctrlTypeIntegerMenu:
		kind = capture.ControlIntegerMenu
	default:
		return capture.ControlInfo{}, false
	}

	return capture.ControlInfo{
		ID:       q.id,
		Name:     cstr(q.name[:]),
		Kind:     kind,
		Min:      q.minimum,
		Max:      q.maximum,
		Step:     q.step,
		Default:  q.defaultValue,
		ReadOnly: q.flags&ctrlFlagReadOnly != 0,
	}, true
}

func (dev *Device) GetControl(id uint32) (int32, error) {
	c := control{id: id}
	if err := dev.ioctl(vidiocGCtrl, unsafe.Pointer(&c)); err != nil {
		return 0, errors.Wrapf(err, "VIDIOC_G_CTRL %#x", id)
	}
	return c.value, nil
}

func (dev *Device) SetControl(id uint32, value int32) error {
	c := control{id: id, value: value}
	if err := dev.ioctl(vidiocSCtrl, unsafe.Pointer(&c)); err != nil {
		return errors.Wrapf(err, "VIDIOC_S_CTRL %#x=%d", id, value)
	}
	return nil
}

// RequestBuffers asks the driver for n memory-mapped buffers. The driver may
// grant a different number.
func (dev *Device) RequestBuffers(n int) (int, error) {
	rb := requestbuffers{
		count:  uint32(n),
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := dev.ioctl(vidiocReqbufs, unsafe.Pointer(&rb)); err != nil {
		return 0, errors.Wrapf(err, "VIDIOC_REQBUFS %d", n)
	}
	return int(rb.count), nil
}

func (dev *Device) MapBuffer(index int) ([]byte, error) {
	qb := buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := dev.ioctl(vidiocQuerybuf, unsafe.Pointer(&qb)); err != nil {
		return nil, errors.Wrapf(err, "VIDIOC_QUERYBUF %d", index)
	}

	data, err := unix.Mmap(
		dev.fd,
		int64(qb.offset()),
		int(qb.length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap buffer %d", index)
	}
	return data, nil
}

func (dev *Device) UnmapBuffer(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}

func (dev *Device) Enqueue(index int) error {
	qb := buffer{
		index:  uint32(index),
		typ:    bufTypeVideoCapture,
		memory: memoryMMAP,
	}
	if err := dev.ioctl(vidiocQbuf, unsafe.Pointer(&qb)); err != nil {
		return errors.Wrapf(err, "VIDIOC_QBUF %d", index)
	}
	return nil
}

// Dequeue polls the device until a filled buffer is available. The device is
// opened non-blocking, so DQBUF itself never sleeps.
func (dev *Device) Dequeue(timeout time.Duration) (capture.Dequeued, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)

		fds := []unix.PollFd{
			{Fd: int32(dev.fd), Events: unix.POLLIN},
			{Fd: int32(dev.wake[0]), Events: unix.POLLIN},
		}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return capture.Dequeued{}, errors.Wrap(err, "poll")
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			dev.drainWake()
			return capture.Dequeued{}, capture.ErrInterrupted
		}
		if n == 0 {
			return capture.Dequeued{}, errors.Wrapf(capture.ErrTimeout, "no frame within %v", timeout)
		}

		qb := buffer{typ: bufTypeVideoCapture, memory: memoryMMAP}
		err = dev.ioctl(vidiocDqbuf, unsafe.Pointer(&qb))
		if err == unix.EAGAIN {
			if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				return capture.Dequeued{}, errors.Wrap(capture.ErrDevice, "device signalled an error")
			}
			continue
		}
		if err != nil {
			return capture.Dequeued{}, errors.Wrap(err, "VIDIOC_DQBUF")
		}

		return capture.Dequeued{
			Index:     int(qb.index),
			BytesUsed: int(qb.bytesused),
			Sequence:  qb.sequence,
			Timestamp: time.Duration(qb.timestamp.Nano()),
			Corrupt:   qb.flags&bufFlagError != 0,
		}, nil
	}
}

func (dev *Device) StreamOn() error {
	typ := int32(bufTypeVideoCapture)
	if err := dev.ioctl(vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return errors.Wrap(err, "VIDIOC_STREAMON")
	}
	return nil
}

// StreamOff stops streaming. The driver returns every queued buffer.
func (dev *Device) StreamOff() error {
	typ := int32(bufTypeVideoCapture)
	if err := dev.ioctl(vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return errors.Wrap(err, "VIDIOC_STREAMOFF")
	}
	return nil
}

func (dev *Device) Interrupt() {
	if dev.wake[1] >= 0 {
		unix.Write(dev.wake[1], []byte{1})
	}
}

func (dev *Device) drainWake() {
	var b [16]byte
	for {
		if n, err := unix.Read(dev.wake[0], b[:]); n <= 0 || err != nil {
			return
		}
	}
}

func (dev *Device) Close() error {
	for i, fd := range dev.wake {
		if fd >= 0 {
			unix.Close(fd)
			dev.wake[i] = -1
		}
	}
	if dev.fd < 0 {
		return nil
	}
	err := unix.Close(dev.fd)
	dev.fd = -1
	return err
}
