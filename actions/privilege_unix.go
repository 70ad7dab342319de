//go:build unix

package actions

import "golang.org/x/sys/unix"

// IsPrivileged reports whether the process can change firewall state.
func IsPrivileged() bool {
	return unix.Geteuid() == 0
}
