//go:build linux || darwin

// Package platform holds the OS hardening applied at daemon startup.
package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps zeroes RLIMIT_CORE so a crash cannot write key material
// to disk.
func DisableCoreDumps() error {
	var rlim unix.Rlimit
	rlim.Cur = 0
	rlim.Max = 0
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
