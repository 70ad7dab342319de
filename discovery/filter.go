package discovery

import (
	"net"
	"net/netip"
	"strings"

	"lanwarden/models"
	"lanwarden/netinfo"
)

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// Validate checks a raw observation and returns it with a canonical MAC.
// Broadcast, multicast, all-zero and local-host entries are rejected.
func Validate(obs models.Observation, scanRange netip.Prefix, local netip.Addr) (models.Observation, bool) {
	hw, err := net.ParseMAC(padMAC(obs.MAC))
	if err != nil || len(hw) != 6 {
		return models.Observation{}, false
	}
	if isZeroMAC(hw) || isBroadcastMAC(hw) || hw[0]&0x01 != 0 {
		return models.Observation{}, false
	}

	ip, err := netip.ParseAddr(strings.TrimSpace(obs.IP))
	if err != nil {
		return models.Observation{}, false
	}
	ip = ip.Unmap()
	if !ip.Is4() || ip.IsUnspecified() || ip.IsMulticast() || ip.IsLoopback() || ip == limitedBroadcast {
		return models.Observation{}, false
	}
	if ip.As4()[3] == 255 {
		return models.Observation{}, false
	}
	if scanRange.IsValid() && scanRange.Contains(ip) && scanRange.Bits() < 31 {
		if ip == netinfo.Broadcast(scanRange) || ip == scanRange.Masked().Addr() {
			return models.Observation{}, false
		}
	}
	if local.IsValid() && ip == local.Unmap() {
		return models.Observation{}, false
	}

	return models.Observation{
		MAC:      strings.ToUpper(hw.String()),
		IP:       ip.String(),
		Hostname: cleanHostname(obs.Hostname),
		Source:   obs.Source,
	}, true
}

func isZeroMAC(hw net.HardwareAddr) bool {
	for _, b := range hw {
		if b != 0x00 {
			return false
		}
	}
	return true
}

func isBroadcastMAC(hw net.HardwareAddr) bool {
	for _, b := range hw {
		if b != 0xff {
			return false
		}
	}
	return true
}

// padMAC zero-pads single digit octets as printed by BSD arp ("0:1b:...").
func padMAC(value string) string {
	value = strings.TrimSpace(value)
	sep := ":"
	if strings.Contains(value, "-") {
		sep = "-"
	}
	parts := strings.Split(value, sep)
	if len(parts) != 6 {
		return value
	}
	for i, part := range parts {
		if len(part) == 1 {
			parts[i] = "0" + part
		}
	}
	return strings.Join(parts, sep)
}

func cleanHostname(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".")
	name = strings.TrimSuffix(name, ".local")
	if name == "?" || strings.EqualFold(name, models.UnknownHostname) {
		return ""
	}
	return name
}
