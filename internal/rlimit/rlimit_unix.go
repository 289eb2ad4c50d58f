//go:build !windows

// Package rlimit contains a function to raise the number of file descriptors.
package rlimit

import (
	"golang.org/x/sys/unix"
)

// Raise raises the soft limit of file descriptors to the hard limit.
// It returns the resulting soft limit.
func Raise() (uint64, error) {
	var rlim unix.Rlimit
	err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim)
	if err != nil {
		return 0, err
	}

	if rlim.Cur >= rlim.Max {
		return uint64(rlim.Cur), nil
	}

	rlim.Cur = rlim.Max
	err = unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim)
	if err != nil {
		return 0, err
	}

	err = unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim)
	if err != nil {
		return 0, err
	}

	return uint64(rlim.Cur), nil
}
