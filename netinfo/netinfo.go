// Package netinfo resolves the local network segment to monitor.
package netinfo

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"strings"
)

const (
	// FallbackInterface is reported when no interface could be detected.
	FallbackInterface = "wlan0"
	// FallbackRange is scanned when no interface could be detected.
	FallbackRange = "192.168.1.0/24"
)

// Info describes the monitored segment. It is resolved once at startup and
// passed by value.
type Info struct {
	Interface string       `json:"interface"`
	Range     netip.Prefix `json:"range"`
	LocalIP   netip.Addr   `json:"local_ip"`
}

// Overrides pin parts of the detection result.
type Overrides struct {
	Interface string
	Range     string
}

type detector struct {
	defaultRoute   func() (string, error)
	interfaces     func() ([]net.Interface, error)
	interfaceAddrs func(name string) ([]net.Addr, error)
}

func newDetector() detector {
	return detector{
		defaultRoute: defaultRouteInterface,
		interfaces:   net.Interfaces,
		interfaceAddrs: func(name string) ([]net.Addr, error) {
			iface, err := net.InterfaceByName(name)
			if err != nil {
				return nil, err
			}
			return iface.Addrs()
		},
	}
}

// Detect resolves the interface, range and local address. It never fails:
// when nothing can be detected the fallback segment is returned.
func Detect(overrides Overrides) Info {
	return newDetector().detect(overrides)
}

func (d detector) detect(overrides Overrides) Info {
	info := Info{Interface: strings.TrimSpace(overrides.Interface)}

	if info.Interface == "" {
		name, err := d.defaultRoute()
		if err != nil {
			log.Printf("netinfo: default route lookup failed: %v", err)
			name, err = d.firstUsableInterface()
			if err != nil {
				log.Printf("netinfo: interface scan failed: %v", err)
			}
		}
		info.Interface = name
	}

	if info.Interface != "" {
		if addr, prefix, err := d.ipv4Prefix(info.Interface); err == nil {
			info.LocalIP = addr
			info.Range = prefix
		} else {
			log.Printf("netinfo: read addresses of %s failed: %v", info.Interface, err)
		}
	}

	if overrides.Range != "" {
		if prefix, err := netip.ParsePrefix(overrides.Range); err == nil {
			info.Range = prefix.Masked()
		} else {
			log.Printf("netinfo: ignoring invalid range override %q: %v", overrides.Range, err)
		}
	}

	if info.Interface == "" {
		info.Interface = FallbackInterface
	}
	if !info.Range.IsValid() {
		log.Printf("warning: could not detect network range, falling back to %s", FallbackRange)
		info.Range = netip.MustParsePrefix(FallbackRange)
	}

	return info
}

func (d detector) firstUsableInterface() (string, error) {
	ifaces, err := d.interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if _, _, err := d.ipv4Prefix(iface.Name); err == nil {
			return iface.Name, nil
		}
	}
	return "", errors.New("no interface with an IPv4 address")
}

func (d detector) ipv4Prefix(name string) (netip.Addr, netip.Prefix, error) {
	addrs, err := d.interfaceAddrs(name)
	if err != nil {
		return netip.Addr{}, netip.Prefix{}, err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
			continue
		}
		local, _ := netip.AddrFromSlice(ip4)
		ones, _ := ipNet.Mask.Size()
		return local, netip.PrefixFrom(local, ones).Masked(), nil
	}
	return netip.Addr{}, netip.Prefix{}, fmt.Errorf("no IPv4 address on %s", name)
}

// Broadcast returns the directed broadcast address of an IPv4 prefix.
func Broadcast(prefix netip.Prefix) netip.Addr {
	if !prefix.Addr().Is4() {
		return netip.Addr{}
	}
	base := prefix.Masked().Addr().As4()
	hostBits := 32 - prefix.Bits()
	for i := 3; i >= 0 && hostBits > 0; i-- {
		n := hostBits
		if n > 8 {
			n = 8
		}
		base[i] |= byte(1<<n - 1)
		hostBits -= n
	}
	return netip.AddrFrom4(base)
}

// Hosts lists the usable host addresses of an IPv4 prefix, skipping the
// network and broadcast addresses. At most limit addresses are returned.
func Hosts(prefix netip.Prefix, limit int) []netip.Addr {
	prefix = prefix.Masked()
	if !prefix.Addr().Is4() {
		return nil
	}
	network := prefix.Addr()
	broadcast := Broadcast(prefix)

	out := make([]netip.Addr, 0, 256)
	for addr := network.Next(); addr.IsValid() && prefix.Contains(addr) && addr != broadcast; addr = addr.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, addr)
	}
	return out
}
