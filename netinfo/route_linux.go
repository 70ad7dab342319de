//go:build linux

package netinfo

import (
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
)

func defaultRouteInterface() (string, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", fmt.Errorf("list routes: %w", err)
	}
	for _, route := range routes {
		if route.Dst != nil {
			if ones, _ := route.Dst.Mask.Size(); ones != 0 {
				continue
			}
		}
		link, err := netlink.LinkByIndex(route.LinkIndex)
		if err != nil {
			return "", fmt.Errorf("resolve route link %d: %w", route.LinkIndex, err)
		}
		return link.Attrs().Name, nil
	}
	return "", errors.New("no default route")
}
