//go:build !linux

package gamepad

import (
	"fmt"
	"runtime"
)

// Open is only supported on Linux.
func Open(path string) (Reader, error) {
	return nil, fmt.Errorf("open gamepad %s: joystick devices are not supported on %s", path, runtime.GOOS)
}
