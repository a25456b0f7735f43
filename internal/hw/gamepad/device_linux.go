//go:build linux

package gamepad

import (
	"bytes"
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

const iocGNAME uint = 0x80ff6a13 // JSIOCGNAME(255)

// Open opens a joystick device such as /dev/input/js0.
func Open(path string) (Reader, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open gamepad %s: %w", path, err)
	}

	name := path
	var buf [256]byte
	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), uintptr(iocGNAME), uintptr(unsafe.Pointer(&buf))); errno == 0 {
		if pos := bytes.IndexByte(buf[:], 0); pos > 0 {
			name = string(buf[:pos])
		}
	}
	return NewStreamReader(f, name), nil
}
