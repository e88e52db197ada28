package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// BlueZ D-Bus names shared by the BlueZ transport and the discovery scanner.
const (
	BluezService        = "org.bluez"
	BluezDeviceIface    = "org.bluez.Device1"
	BluezAdapterIface   = "org.bluez.Adapter1"
	BluezProfileIface   = "org.bluez.Profile1"
	BluezProfileManager = "org.bluez.ProfileManager1"
	ObjectManagerIface  = "org.freedesktop.DBus.ObjectManager"
	PropertiesIface     = "org.freedesktop.DBus.Properties"

	// DefaultBluezAdapter is the adapter used when none is configured.
	DefaultBluezAdapter = "hci0"
)

// ParseMAC parses "AA:BB:CC:DD:EE:FF" (or '-' / '_' separated) into bytes in
// display order.
func ParseMAC(value string) ([6]byte, error) {
	var out [6]byte
	clean := strings.NewReplacer("-", ":", "_", ":").Replace(strings.TrimSpace(value))
	parts := strings.Split(clean, ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("%w: bluetooth address %q", ErrInvalidAddress, value)
	}
	for i, part := range parts {
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil || len(part) != 2 {
			return out, fmt.Errorf("%w: bluetooth address %q", ErrInvalidAddress, value)
		}
		out[i] = byte(b)
	}
	return out, nil
}

// FormatMAC renders bytes in display order as "AA:BB:CC:DD:EE:FF".
func FormatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// BluezDevicePath returns the Device1 object path for mac on adapter.
func BluezDevicePath(adapter, mac string) (string, error) {
	parsed, err := ParseMAC(mac)
	if err != nil {
		return "", err
	}
	if adapter == "" {
		adapter = DefaultBluezAdapter
	}
	return "/org/bluez/" + adapter + "/dev_" + strings.ReplaceAll(FormatMAC(parsed), ":", "_"), nil
}

// MACFromDevicePath extracts the address from ".../dev_XX_XX_XX_XX_XX_XX".
func MACFromDevicePath(path string) string {
	idx := strings.LastIndex(path, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(path[idx+len("/dev_"):], "_", ":")
}

// splitBluezTarget accepts "MAC", "adapter/MAC" or a full device object path.
func splitBluezTarget(target, defaultAdapter string) (string, error) {
	if strings.HasPrefix(target, "/org/bluez/") {
		if MACFromDevicePath(target) == "" {
			return "", fmt.Errorf("%w: device path %q", ErrInvalidAddress, target)
		}
		return target, nil
	}

	adapter := defaultAdapter
	mac := target
	if before, after, ok := strings.Cut(target, "/"); ok {
		adapter, mac = before, after
	}
	return BluezDevicePath(adapter, mac)
}
