package transport

import (
	"errors"
	"testing"
)

func TestParseAndFormatMAC(t *testing.T) {
	mac, err := ParseMAC("aa-bb-cc-dd-ee-0f")
	if err != nil {
		t.Fatalf("ParseMAC failed: %v", err)
	}
	if FormatMAC(mac) != "AA:BB:CC:DD:EE:0F" {
		t.Fatalf("unexpected formatted MAC %q", FormatMAC(mac))
	}

	for _, bad := range []string{"", "AA:BB:CC:DD:EE", "AA:BB:CC:DD:EE:GG", "AAA:BB:CC:DD:EE:FF"} {
		if _, err := ParseMAC(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected ErrInvalidAddress for %q, got %v", bad, err)
		}
	}
}

func TestBluezDevicePathRoundTrip(t *testing.T) {
	path, err := BluezDevicePath("", "aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("BluezDevicePath failed: %v", err)
	}
	if path != "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF" {
		t.Fatalf("unexpected device path %q", path)
	}
	if MACFromDevicePath(path) != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("unexpected MAC from path %q", MACFromDevicePath(path))
	}
	if MACFromDevicePath("/org/bluez/hci0") != "" {
		t.Fatalf("expected empty MAC for adapter path")
	}
}

func TestSplitBluezTarget(t *testing.T) {
	cases := map[string]string{
		"AA:BB:CC:DD:EE:FF":                     "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
		"hci1/AA:BB:CC:DD:EE:FF":                "/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF",
		"/org/bluez/hci2/dev_AA_BB_CC_DD_EE_FF": "/org/bluez/hci2/dev_AA_BB_CC_DD_EE_FF",
	}
	for target, expected := range cases {
		got, err := splitBluezTarget(target, "hci0")
		if err != nil {
			t.Fatalf("splitBluezTarget(%q) failed: %v", target, err)
		}
		if got != expected {
			t.Fatalf("expected %q for %q, got %q", expected, target, got)
		}
	}

	if _, err := splitBluezTarget("/org/bluez/hci0", "hci0"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for adapter path, got %v", err)
	}
}
