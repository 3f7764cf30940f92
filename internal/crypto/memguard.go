//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

func LockMemory(b []byte) error   { return unix.Mlock(b) }
func UnlockMemory(b []byte) error { return unix.Munlock(b) }
