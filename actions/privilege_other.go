//go:build !unix && !windows

package actions

func IsPrivileged() bool { return false }
