//go:build windows

package transport

import (
	"errors"
	"syscall"
)

func isConnResetErr(err error) bool {
	return errors.Is(err, syscall.WSAECONNRESET) || errors.Is(err, syscall.EPIPE)
}
