//go:build unix

package config

import (
	"os"

	"golang.org/x/sys/unix"
)

func lockShared(f *os.File) (func(), error) {
	return flock(f, unix.LOCK_SH)
}

func lockExclusive(f *os.File) (func(), error) {
	return flock(f, unix.LOCK_EX)
}

func flock(f *os.File, how int) (func(), error) {
	fd := int(f.Fd()) //#nosec G115 -- file descriptors fit in int
	for {
		err := unix.Flock(fd, how)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return func() {}, err
		}
		break
	}
	return func() { _ = unix.Flock(fd, unix.LOCK_UN) }, nil
}
