//go:build !linux

package netinfo

import "errors"

func defaultRouteInterface() (string, error) {
	return "", errors.New("default route lookup is only supported on linux")
}
