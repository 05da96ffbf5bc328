//go:build unix

package transport

import "golang.org/x/sys/unix"

var errAddrInUse error = unix.EADDRINUSE
