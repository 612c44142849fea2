package goble

import "strings"

// ValidAddress reports whether address is a MAC address (AA:BB:CC:DD:EE:FF) or a
// CoreBluetooth peripheral identifier (a dashed 128-bit UUID), the two forms go-ble dials.
func ValidAddress(address string) bool {
	a := strings.TrimSpace(address)
	switch len(a) {
	case 17:
		for i, r := range a {
			if i%3 == 2 {
				if r != ':' && r != '-' {
					return false
				}
				continue
			}
			if !isHex(r) {
				return false
			}
		}
		return true
	case 36:
		for i, r := range a {
			switch i {
			case 8, 13, 18, 23:
				if r != '-' {
					return false
				}
			default:
				if !isHex(r) {
					return false
				}
			}
		}
		return true
	default:
		return false
	}
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
