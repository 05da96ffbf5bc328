//go:build !unix

package transport

import "syscall"

var errAddrInUse error = syscall.EADDRINUSE
