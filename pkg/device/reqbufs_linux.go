//go:build linux

package device

import (
	"fmt"
	"unsafe"

	"github.com/blackjack/webcam/ioctl"
	"golang.org/x/sys/unix"
)

// requestBuffers mirrors struct v4l2_requestbuffers.
type requestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

const (
	bufTypeVideoCapture = 1
	memoryMMAP          = 1
)

var vidiocReqbufs = ioctl.IoRW('V', 8, unsafe.Sizeof(requestBuffers{}))

// negotiateBuffers asks the driver behind path how many of n mmap buffers
// it grants and frees them again. webcam only sends VIDIOC_REQBUFS when the
// stream starts, so this is the only way to learn the count up front.
// Drivers clamp the count the same way every time, so requesting the
// granted count later yields that count again.
func negotiateBuffers(path string, n int) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	req := requestBuffers{count: uint32(n), typ: bufTypeVideoCapture, memory: memoryMMAP}
	if err := ioctl.Ioctl(uintptr(fd), vidiocReqbufs, uintptr(unsafe.Pointer(&req))); err != nil {
		return 0, fmt.Errorf("%s: request %d buffers: %w", path, n, err)
	}
	granted := int(req.count)

	release := requestBuffers{typ: bufTypeVideoCapture, memory: memoryMMAP}
	ioctl.Ioctl(uintptr(fd), vidiocReqbufs, uintptr(unsafe.Pointer(&release)))

	return granted, nil
}

// checkGranted validates the count a driver granted for a request of n.
func checkGranted(path string, n, granted int) error {
	switch {
	case granted < 1:
		return fmt.Errorf("%s: driver granted no buffers (requested %d)", path, n)
	case granted > MaxBuffers:
		return fmt.Errorf("%s: driver needs %d buffers, more than the limit of %d", path, granted, MaxBuffers)
	}
	return nil
}
