package models

import (
	"fmt"
	"net"
	"strings"
)

// NormalizeMAC returns the canonical upper-case, colon separated form of a
// 48-bit hardware address.
func NormalizeMAC(value string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("mac %q is not a 48-bit address", value)
	}
	return strings.ToUpper(hw.String()), nil
}
